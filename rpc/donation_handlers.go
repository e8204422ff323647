package rpc

import (
	"net/http"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/donation"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

type donateParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
}

type donationFeeParams struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

type donationAddrParams struct {
	Address string `json:"address"`
}

type donationJSON struct {
	Donor     string `json:"donor"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Gross     string `json:"gross"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
}

func (s *Server) donationToJSON(rec *donation.Record) donationJSON {
	out := donationJSON{
		Donor:     crypto.FormatAddress(rec.Donor),
		Recipient: crypto.FormatAddress(rec.Recipient),
		Gross:     rec.Gross.String(),
		Fee:       rec.Fee.String(),
		Net:       rec.Net.String(),
	}
	if addr, err := s.registry.At(rec.Token); err == nil {
		out.Token = crypto.FormatAddress(addr)
	}
	return out
}

func (s *Server) handleDonationDonate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params donateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	recipient, err := parseAccount("recipient", params.Recipient)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	rec, err := s.donation.Donate(caller, recipient, tokenAddr, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, s.donationToJSON(rec))
}

func (s *Server) handleDonationFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]uint32{"feeBps": s.donation.Fee()})
}

func (s *Server) handleDonationSetFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params donationFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.donation.SetFee(caller, params.FeeBps); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) donationList(w http.ResponseWriter, req *RPCRequest, fetch func(token.Address) ([]*donation.Record, error)) {
	var params donationAddrParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAccount("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	records, err := fetch(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]donationJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, s.donationToJSON(rec))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleDonationSent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.donationList(w, req, s.donation.Sent)
}

func (s *Server) handleDonationReceived(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.donationList(w, req, s.donation.Received)
}
