package services

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type RequestService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *RequestService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)
	r.Get("/counts", s.Counts)

	r.Route("/{request_id}", func(r chi.Router) {
		r.Get("/", s.Info)

		r.Group(func(r chi.Router) {
			r.Use(auth.NotBanned)

			r.Post("/accept", s.Accept)
			r.Post("/decline", s.Decline)
			r.Post("/messages", s.AddMessage)
		})
	})

	return r
}

func (s *RequestService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filter := lifecycle.RequestFilter{
		Box:             lifecycle.RequestBox(r.URL.Query().Get("box")),
		IncludeResolved: utils.QueryBool(r, "resolved"),
	}
	if filter.Box == "" {
		filter.Box = lifecycle.IncomingRequests
	}
	filter.AssetId, err = utils.QueryId(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requests, err := lifecycle.ListRequests(s.db, user, filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing requests: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToRequestInfos(requests))
}

type requestCountsResponse struct {
	Incoming int64  `json:"incoming"`
	Outgoing int64  `json:"outgoing"`
	Reports  *int64 `json:"reports,omitempty"`
}

func (s *RequestService) Counts(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	counts, err := lifecycle.CountOpenRequests(s.db, user)
	if err != nil {
		http.Error(w, fmt.Sprintf("error counting requests: %v", err), GetResponseCode(err))
		return
	}

	res := requestCountsResponse{Incoming: counts.Incoming, Outgoing: counts.Outgoing}
	if auth.IsElevated(&user) {
		res.Reports = &counts.Reports
	}

	utils.WriteJsonResponse(w, res)
}

func (s *RequestService) Info(w http.ResponseWriter, r *http.Request) {
	requestId, err := utils.URLParamUint(r, "request_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	request, err := lifecycle.GetRequest(s.db, user, requestId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error retrieving request: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToRequestInfo(request))
}

type resolveFunc func(txn *gorm.DB, resolver schema.User, requestId uint, silent bool) (schema.AssetRequest, error)

// resolveHandler serves accept and decline. Only moderators may resolve
// silently, which skips the alerts to the involved users.
func (s *RequestService) resolveHandler(w http.ResponseWriter, r *http.Request, resolve resolveFunc, accepted bool) {
	requestId, err := utils.URLParamUint(r, "request_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	silent := utils.QueryBool(r, "silent")
	if silent && !auth.IsElevated(&user) {
		http.Error(w, "only moderators may resolve requests silently", http.StatusForbidden)
		return
	}

	var request schema.AssetRequest
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = resolve(txn, user, requestId, silent)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error resolving request: %v", err), GetResponseCode(err))
		return
	}

	requestsResolved.WithLabelValues(string(request.RequestType), outcomeLabel(accepted)).Inc()
	if accepted && request.RequestType == schema.ReportRequest {
		statusChanges.WithLabelValues(string(schema.Rejected)).Inc()
	}

	utils.WriteJsonResponse(w, convertToRequestInfo(request))
}

func (s *RequestService) Accept(w http.ResponseWriter, r *http.Request) {
	s.resolveHandler(w, r, lifecycle.Accept, true)
}

func (s *RequestService) Decline(w http.ResponseWriter, r *http.Request) {
	s.resolveHandler(w, r, lifecycle.Decline, false)
}

type addMessageRequest struct {
	Message string `json:"message"`
}

func (s *RequestService) AddMessage(w http.ResponseWriter, r *http.Request) {
	requestId, err := utils.URLParamUint(r, "request_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params addMessageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Message == "" {
		http.Error(w, "message must not be empty", http.StatusBadRequest)
		return
	}

	var request schema.AssetRequest
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = lifecycle.AddMessage(txn, user, requestId, params.Message)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error adding message: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToRequestInfo(request))
}
