package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swifthaul/auth"
	"swifthaul/bid"
	"swifthaul/cancel"
	"swifthaul/dispute"
	"swifthaul/escrow"
	"swifthaul/fault"
	"swifthaul/job"
	"swifthaul/wallet"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const ctxKeyActor ctxKey = iota

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

type jobService interface {
	Create(ctx context.Context, actor auth.Actor, params job.CreateParams) (job.Job, error)
	Advance(ctx context.Context, actor auth.Actor, jobID string, next job.Status) (job.Job, error)
	ConfirmDelivery(ctx context.Context, actor auth.Actor, jobID string) (job.Job, escrow.Transaction, error)
	Get(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, filters job.Filters) ([]job.Job, int, error)
}

type bidService interface {
	Submit(ctx context.Context, actor auth.Actor, params bid.SubmitParams) (bid.Bid, error)
	Accept(ctx context.Context, actor auth.Actor, jobID, bidID string) (bid.AcceptResult, error)
	Shortlist(ctx context.Context, actor auth.Actor, bidID string) (bid.Bid, error)
	Reject(ctx context.Context, actor auth.Actor, bidID string) (bid.Bid, error)
	Withdraw(ctx context.Context, actor auth.Actor, bidID string) (bid.Bid, error)
	ListForJob(ctx context.Context, jobID string) ([]bid.Bid, error)
	ListForDriver(ctx context.Context, driverID string) ([]bid.Bid, error)
}

type cancelService interface {
	Cancel(ctx context.Context, actor auth.Actor, params cancel.Params) (job.Job, error)
}

type disputeService interface {
	Open(ctx context.Context, actor auth.Actor, params dispute.OpenParams) (dispute.Record, error)
	TakeUnderReview(ctx context.Context, actor auth.Actor, disputeID string) (dispute.Record, error)
	Resolve(ctx context.Context, actor auth.Actor, disputeID string, resolution dispute.Resolution, adminNotes string) (dispute.ResolveResult, error)
	Get(ctx context.Context, id string) (dispute.Record, error)
	ListForJob(ctx context.Context, jobID string) ([]dispute.Record, error)
	List(ctx context.Context, status dispute.Status) ([]dispute.Record, error)
}

type escrowReader interface {
	GetByJob(ctx context.Context, jobID string) (escrow.Transaction, error)
}

type walletReader interface {
	Balance(ctx context.Context, userID string) (wallet.Account, error)
	Entries(ctx context.Context, userID string, limit int) ([]wallet.Entry, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService    authService
	jobService     jobService
	bidService     bidService
	cancelService  cancelService
	disputeService disputeService
	escrowService  escrowReader
	walletService  walletReader
	log            *logrus.Logger
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))

	mux.HandleFunc("POST /api/jobs", s.requireAuth(s.handleCreateJob))
	mux.HandleFunc("GET /api/jobs", s.requireAuth(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.requireAuth(s.handleGetJob))
	mux.HandleFunc("POST /api/jobs/{id}/status", s.requireAuth(s.handleAdvanceJob))
	mux.HandleFunc("POST /api/jobs/{id}/confirm", s.requireAuth(s.handleConfirmDelivery))
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.requireAuth(s.handleCancelJob))
	mux.HandleFunc("GET /api/jobs/{id}/transaction", s.requireAuth(s.handleJobTransaction))

	mux.HandleFunc("POST /api/jobs/{id}/bids", s.requireAuth(s.handleSubmitBid))
	mux.HandleFunc("GET /api/jobs/{id}/bids", s.requireAuth(s.handleListJobBids))
	mux.HandleFunc("POST /api/jobs/{id}/bids/{bidID}/accept", s.requireAuth(s.handleAcceptBid))
	mux.HandleFunc("GET /api/bids", s.requireAuth(s.handleListMyBids))
	mux.HandleFunc("POST /api/bids/{id}/shortlist", s.requireAuth(s.handleShortlistBid))
	mux.HandleFunc("POST /api/bids/{id}/reject", s.requireAuth(s.handleRejectBid))
	mux.HandleFunc("POST /api/bids/{id}/withdraw", s.requireAuth(s.handleWithdrawBid))

	mux.HandleFunc("POST /api/disputes", s.requireAuth(s.handleOpenDispute))
	mux.HandleFunc("GET /api/disputes", s.requireAuth(s.handleListDisputes))
	mux.HandleFunc("GET /api/disputes/{id}", s.requireAuth(s.handleGetDispute))
	mux.HandleFunc("POST /api/disputes/{id}/review", s.requireAuth(s.handleReviewDispute))
	mux.HandleFunc("POST /api/disputes/{id}/resolve", s.requireAuth(s.handleResolveDispute))

	mux.HandleFunc("GET /api/wallet", s.requireAuth(s.handleWalletBalance))
	mux.HandleFunc("GET /api/wallet/entries", s.requireAuth(s.handleWalletEntries))

	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		actor, err := s.authService.VerifyToken(token)
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyActor, actor)))
	}
}

func actorFrom(ctx context.Context) auth.Actor {
	actor, _ := ctx.Value(ctxKeyActor).(auth.Actor)
	return actor
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, fault.ErrValidation), errors.Is(err, auth.ErrWeakPassword):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, fault.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrStateConflict),
		errors.Is(err, fault.ErrFinancialIntegrity),
		errors.Is(err, bid.ErrDuplicateBid),
		errors.Is(err, dispute.ErrAlreadyOpen),
		errors.Is(err, auth.ErrDuplicateEmail):
		status = http.StatusConflict
	default:
		s.log.WithError(err).Error("request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) || errors.Is(err, auth.ErrWeakPassword) {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}{Token: result.Token, User: toUserResponse(result.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	user, err := s.authService.GetUserByID(r.Context(), actor.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserResponse(*user))
}

type jobResponse struct {
	ID               string   `json:"id"`
	JobNumber        string   `json:"jobNumber"`
	ClientID         string   `json:"clientId"`
	AssignedDriverID *string  `json:"assignedDriverId,omitempty"`
	Status           string   `json:"status"`
	PickupAddress    string   `json:"pickupAddress"`
	DropoffAddress   string   `json:"dropoffAddress"`
	BudgetMin        int64    `json:"budgetMin"`
	BudgetMax        int64    `json:"budgetMax"`
	FinalAmount      *int64   `json:"finalAmount,omitempty"`
	SizeTier         string   `json:"sizeTier"`
	Addons           []string `json:"addons,omitempty"`
	EstimatedFare    int64    `json:"estimatedFare"`
	Notes            *string  `json:"notes,omitempty"`
	CancelReason     *string  `json:"cancelReason,omitempty"`
	CreatedAt        string   `json:"createdAt"`
}

func toJobResponse(j job.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		JobNumber:        j.JobNumber,
		ClientID:         j.ClientID,
		AssignedDriverID: j.AssignedDriverID,
		Status:           string(j.Status),
		PickupAddress:    j.PickupAddress,
		DropoffAddress:   j.DropoffAddress,
		BudgetMin:        j.BudgetMin,
		BudgetMax:        j.BudgetMax,
		FinalAmount:      j.FinalAmount,
		SizeTier:         j.Fare.SizeTier,
		Addons:           j.Fare.Addons,
		EstimatedFare:    j.Fare.EstimatedFare,
		Notes:            j.Fare.Notes,
		CancelReason:     j.CancelReason,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
	}
}

type createJobRequest struct {
	PickupAddress  string   `json:"pickupAddress"`
	DropoffAddress string   `json:"dropoffAddress"`
	BudgetMin      int64    `json:"budgetMin"`
	BudgetMax      int64    `json:"budgetMax"`
	SizeTier       string   `json:"sizeTier"`
	Addons         []string `json:"addons"`
	EstimatedFare  int64    `json:"estimatedFare"`
	Notes          *string  `json:"notes"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	created, err := s.jobService.Create(r.Context(), actorFrom(r.Context()), job.CreateParams{
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		BudgetMin:      req.BudgetMin,
		BudgetMax:      req.BudgetMax,
		Fare: job.FareDetails{
			Notes:         req.Notes,
			SizeTier:      req.SizeTier,
			Addons:        req.Addons,
			EstimatedFare: req.EstimatedFare,
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toJobResponse(created))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	jobs, total, err := s.jobService.List(r.Context(), job.Filters{
		ClientID: q.Get("clientId"),
		DriverID: q.Get("driverId"),
		Status:   job.Status(q.Get("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobResponse(j))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []jobResponse `json:"items"`
		Total int           `json:"total"`
	}{Items: items, Total: total})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleAdvanceJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	updated, err := s.jobService.Advance(r.Context(), actorFrom(r.Context()), r.PathValue("id"), job.Status(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(updated))
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	updated, txn, err := s.jobService.ConfirmDelivery(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Job         jobResponse         `json:"job"`
		Transaction transactionResponse `json:"transaction"`
	}{Job: toJobResponse(updated), Transaction: toTransactionResponse(txn)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	cancelled, err := s.cancelService.Cancel(r.Context(), actorFrom(r.Context()), cancel.Params{
		JobID:  r.PathValue("id"),
		Reason: req.Reason,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(cancelled))
}

type transactionResponse struct {
	ID               string `json:"id"`
	JobID            string `json:"jobId"`
	ClientID         string `json:"clientId"`
	DriverID         string `json:"driverId"`
	TotalAmount      int64  `json:"totalAmount"`
	CommissionAmount int64  `json:"commissionAmount"`
	DriverPayout     int64  `json:"driverPayout"`
	PaymentStatus    string `json:"paymentStatus"`
}

func toTransactionResponse(t escrow.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		JobID:            t.JobID,
		ClientID:         t.ClientID,
		DriverID:         t.DriverID,
		TotalAmount:      t.TotalAmount,
		CommissionAmount: t.CommissionAmount,
		DriverPayout:     t.DriverPayout,
		PaymentStatus:    string(t.PaymentStatus),
	}
}

func (s *Server) handleJobTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.escrowService.GetByJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

type bidResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"jobId"`
	DriverID  string `json:"driverId"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toBidResponse(b bid.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		JobID:     b.JobID,
		DriverID:  b.DriverID,
		Amount:    b.Amount,
		Status:    string(b.Status),
		Message:   b.Message,
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount  int64  `json:"amount"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	created, err := s.bidService.Submit(r.Context(), actorFrom(r.Context()), bid.SubmitParams{
		JobID:   r.PathValue("id"),
		Amount:  req.Amount,
		Message: req.Message,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toBidResponse(created))
}

func (s *Server) handleListJobBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.bidService.ListForJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		items = append(items, toBidResponse(b))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []bidResponse `json:"items"`
	}{Items: items})
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	res, err := s.bidService.Accept(r.Context(), actorFrom(r.Context()), r.PathValue("id"), r.PathValue("bidID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Job         jobResponse         `json:"job"`
		Bid         bidResponse         `json:"bid"`
		Transaction transactionResponse `json:"transaction"`
	}{Job: toJobResponse(res.Job), Bid: toBidResponse(res.Bid), Transaction: toTransactionResponse(res.Transaction)})
}

func (s *Server) handleListMyBids(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != auth.RoleDriver {
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "drivers only"})
		return
	}
	bids, err := s.bidService.ListForDriver(r.Context(), actor.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		items = append(items, toBidResponse(b))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []bidResponse `json:"items"`
	}{Items: items})
}

func (s *Server) handleShortlistBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidStatusWrite(w, r, s.bidService.Shortlist)
}

func (s *Server) handleRejectBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidStatusWrite(w, r, s.bidService.Reject)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidStatusWrite(w, r, s.bidService.Withdraw)
}

func (s *Server) handleBidStatusWrite(w http.ResponseWriter, r *http.Request, op func(context.Context, auth.Actor, string) (bid.Bid, error)) {
	updated, err := op(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBidResponse(updated))
}

type disputeResponse struct {
	ID             string  `json:"id"`
	JobID          string  `json:"jobId"`
	OpenedByUserID string  `json:"openedByUserId"`
	OpenedByRole   string  `json:"openedByRole"`
	Reason         string  `json:"reason"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status"`
	Resolution     *string `json:"resolution,omitempty"`
	AdminNotes     *string `json:"adminNotes,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:             rec.ID,
		JobID:          rec.JobID,
		OpenedByUserID: rec.OpenedByUserID,
		OpenedByRole:   rec.OpenedByRole,
		Reason:         string(rec.Reason),
		Description:    rec.Description,
		Status:         string(rec.Status),
		AdminNotes:     rec.AdminNotes,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Resolution != nil {
		r := string(*rec.Resolution)
		resp.Resolution = &r
	}
	return resp
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID       string `json:"jobId"`
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	rec, err := s.disputeService.Open(r.Context(), actorFrom(r.Context()), dispute.OpenParams{
		JobID:       req.JobID,
		Reason:      dispute.Reason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	if jobID := r.URL.Query().Get("jobId"); jobID != "" {
		recs, err := s.disputeService.ListForJob(r.Context(), jobID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeDisputeList(w, recs)
		return
	}

	recs, err := s.disputeService.List(r.Context(), dispute.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeDisputeList(w, recs)
}

func (s *Server) writeDisputeList(w http.ResponseWriter, recs []dispute.Record) {
	items := make([]disputeResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toDisputeResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []disputeResponse `json:"items"`
	}{Items: items})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputeService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleReviewDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputeService.TakeUnderReview(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
		AdminNotes string `json:"adminNotes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := s.disputeService.Resolve(r.Context(), actorFrom(r.Context()), r.PathValue("id"),
		dispute.Resolution(req.Resolution), req.AdminNotes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Dispute     disputeResponse     `json:"dispute"`
		Transaction transactionResponse `json:"transaction"`
	}{Dispute: toDisputeResponse(res.Dispute), Transaction: toTransactionResponse(res.Transaction)})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := s.walletService.Balance(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		UserID  string `json:"userId"`
		Balance int64  `json:"balance"`
	}{UserID: acct.UserID, Balance: acct.Balance})
}

func (s *Server) handleWalletEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.walletService.Entries(r.Context(), actorFrom(r.Context()).UserID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type entryResponse struct {
		ID        int64   `json:"id"`
		JobID     *string `json:"jobId,omitempty"`
		Amount    int64   `json:"amount"`
		Memo      string  `json:"memo"`
		CreatedAt string  `json:"createdAt"`
	}
	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryResponse{
			ID:        e.ID,
			JobID:     e.JobID,
			Amount:    e.Amount,
			Memo:      e.Memo,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []entryResponse `json:"items"`
	}{Items: items})
}
