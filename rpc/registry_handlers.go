package rpc

import (
	"net/http"

	"github.com/socious-io/socious-smart-contracts/crypto"
)

type registryAddParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

func (s *Server) handleRegistryAdd(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params registryAddParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.registry.Add(caller, tokenAddr); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	index, err := s.registry.IndexOf(tokenAddr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint32{"index": index})
}

func (s *Server) handleRegistryTokens(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	tokens := s.registry.Tokens()
	out := make([]string, 0, len(tokens))
	for _, addr := range tokens {
		out = append(out, crypto.FormatAddress(addr))
	}
	writeResult(w, req.ID, out)
}
