package rpc

import (
	"net/http"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/lending"
)

type lendingCreateParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Target string `json:"target"`
	Token  string `json:"token"`
}

type lendingIDParams struct {
	ID string `json:"id"`
}

type lendingAmountParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type lendingCallerParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
}

type stakeJSON struct {
	Lender   string `json:"lender"`
	Amount   string `json:"amount"`
	Redeemed string `json:"redeemed"`
}

type projectJSON struct {
	ID          string      `json:"id"`
	Target      string      `json:"target"`
	Token       string      `json:"token"`
	Raised      string      `json:"raised"`
	Borrowed    bool        `json:"borrowed"`
	Repaid      string      `json:"repaid"`
	TotalDue    string      `json:"totalDue"`
	Rounds      uint32      `json:"rounds"`
	InterestBps uint32      `json:"interestBps"`
	Stakes      []stakeJSON `json:"stakes,omitempty"`
}

func (s *Server) projectToJSON(p *lending.Project) projectJSON {
	out := projectJSON{
		ID:          p.ID,
		Target:      p.Target.String(),
		Raised:      p.Raised.String(),
		Borrowed:    p.Borrowed,
		Repaid:      p.Repaid.String(),
		TotalDue:    p.TotalDue().String(),
		Rounds:      p.Rounds,
		InterestBps: p.InterestBps,
	}
	if addr, err := s.registry.At(p.Token); err == nil {
		out.Token = crypto.FormatAddress(addr)
	}
	for _, stake := range p.Stakes {
		out.Stakes = append(out.Stakes, stakeJSON{
			Lender:   crypto.FormatAddress(stake.Lender),
			Amount:   stake.Amount.String(),
			Redeemed: stake.Redeemed.String(),
		})
	}
	return out
}

func (s *Server) handleLendingCreateProject(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params lendingCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	target, err := parsePositiveBigInt(params.Target)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	project, err := s.lending.CreateProject(caller, params.ID, target, tokenAddr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, s.projectToJSON(project))
}

func (s *Server) handleLendingGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingIDParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	project, err := s.lending.Get(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, s.projectToJSON(project))
}

func (s *Server) handleLendingLend(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.lending.Lend(caller, params.ID, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLendingBorrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params lendingCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.lending.Borrow(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLendingRepay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.lending.Repay(caller, params.ID, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLendingRedeem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := s.lending.Redeem(caller, params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}
