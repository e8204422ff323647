package rpc

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/escrow"
)

type escrowCreateParams struct {
	Organization        string `json:"organization"`
	Contributor         string `json:"contributor,omitempty"`
	JobReference        string `json:"jobReference,omitempty"`
	Principal           string `json:"principal"`
	Token               string `json:"token"`
	OrganizationRef     string `json:"organizationReferrer,omitempty"`
	ContributorReferrer string `json:"contributorReferrer,omitempty"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowSetContributorParams struct {
	ID          uint64 `json:"id"`
	Caller      string `json:"caller"`
	Contributor string `json:"contributor"`
	Referrer    string `json:"referrer,omitempty"`
}

type escrowCallerParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowDecideParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Refund bool   `json:"refund"`
}

type pendingPayoutJSON struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type escrowJSON struct {
	ID                   uint64              `json:"id"`
	Organization         string              `json:"organization"`
	Contributor          string              `json:"contributor,omitempty"`
	JobReference         string              `json:"jobReference"`
	Principal            string              `json:"principal"`
	Token                string              `json:"token"`
	OrganizationReferrer string              `json:"organizationReferrer,omitempty"`
	ContributorReferrer  string              `json:"contributorReferrer,omitempty"`
	Status               string              `json:"status"`
	Pending              []pendingPayoutJSON `json:"pending,omitempty"`
}

func (s *Server) escrowToJSON(rec *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:           rec.ID,
		Organization: crypto.FormatAddress(rec.Organization),
		JobReference: rec.JobReference,
		Principal:    rec.Principal.String(),
		Status:       rec.Status.String(),
	}
	if rec.ContributorSet() {
		out.Contributor = crypto.FormatAddress(rec.Contributor)
	}
	if addr, err := s.registry.At(rec.Token); err == nil {
		out.Token = crypto.FormatAddress(addr)
	}
	if rec.OrganizationReferral.Applies {
		out.OrganizationReferrer = crypto.FormatAddress(rec.OrganizationReferral.Referrer)
	}
	if rec.ContributorReferral.Applies {
		out.ContributorReferrer = crypto.FormatAddress(rec.ContributorReferral.Referrer)
	}
	for _, pending := range rec.Pending {
		out.Pending = append(out.Pending, pendingPayoutJSON{
			Recipient: crypto.FormatAddress(pending.Recipient),
			Amount:    pending.Amount.String(),
		})
	}
	return out
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	organization, err := parseAccount("organization", params.Organization)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	principal, err := parsePositiveBigInt(params.Principal)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tokenAddr, err := parseAccount("token", params.Token)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	create := escrow.CreateParams{
		Organization: organization,
		JobReference: strings.TrimSpace(params.JobReference),
		Principal:    principal,
		Token:        tokenAddr,
	}
	if create.JobReference == "" {
		create.JobReference = uuid.NewString()
	}
	if params.Contributor != "" {
		contributor, err := parseAccount("contributor", params.Contributor)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
		create.Contributor = contributor
	}
	if params.OrganizationRef != "" {
		referrer, err := parseAccount("organizationReferrer", params.OrganizationRef)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
		create.OrganizationReferral.Assign(referrer)
	}
	if params.ContributorReferrer != "" {
		referrer, err := parseAccount("contributorReferrer", params.ContributorReferrer)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
		create.ContributorReferral.Assign(referrer)
	}
	rec, err := s.escrow.Create(create)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, s.escrowToJSON(rec))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	rec, err := s.escrow.Get(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, s.escrowToJSON(rec))
}

func (s *Server) handleEscrowSetContributor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowSetContributorParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	contributor, err := parseAccount("contributor", params.Contributor)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	var referral escrow.Referral
	if params.Referrer != "" {
		referrer, err := parseAccount("referrer", params.Referrer)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
		referral.Assign(referrer)
	}
	if err := s.escrow.SetContributor(caller, params.ID, contributor, referral); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.escrow.Withdraw(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEscrowDecide(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowDecideParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.escrow.Decide(caller, params.ID, params.Refund); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEscrowRetryPayouts(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.escrow.RetryPayouts(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
