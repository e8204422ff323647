package rpc

import (
	"net/http"

	"github.com/socious-io/socious-smart-contracts/crypto"
)

type incomeSetBeneficiaryParams struct {
	Caller      string `json:"caller"`
	Beneficiary string `json:"beneficiary"`
}

type incomeSweepParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Token  string `json:"token"`
}

type incomeCollectParams struct {
	Token string `json:"token"`
}

func (s *Server) handleIncomeBeneficiary(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{
		"beneficiary": crypto.FormatAddress(s.sink.Beneficiary()),
	})
}

// handleIncomeCollect reports the fee balance retained for a token. In the
// default immediate-forward mode this is always zero.
func (s *Server) handleIncomeCollect(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params incomeCollectParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": s.sink.Collect(tokenAddr).String()})
}

func (s *Server) handleIncomeSetBeneficiary(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params incomeSetBeneficiaryParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	beneficiary, err := parseAccount("beneficiary", params.Beneficiary)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.sink.SetBeneficiary(caller, beneficiary); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

// handleIncomeSweep drains legacy accumulated fees to an explicit recipient.
// In the default immediate-forward mode there is nothing to sweep and the
// call is a no-op on an empty balance.
func (s *Server) handleIncomeSweep(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params incomeSweepParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	to, err := parseAccount("to", params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.sink.TransferAssets(caller, to, tokenAddr); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
