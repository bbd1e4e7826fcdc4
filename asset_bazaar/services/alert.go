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

type AlertService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *AlertService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)

	r.Route("/{alert_id}", func(r chi.Router) {
		r.Post("/read", s.MarkRead)
		r.Delete("/", s.Delete)
	})

	return r
}

// List answers 204 when the user has no alerts matching the filter.
func (s *AlertService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filter, err := lifecycle.ParseReadFilter(r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	alerts, err := lifecycle.ListAlerts(s.db, user.Id, filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing alerts: %v", err), GetResponseCode(err))
		return
	}

	if len(alerts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	infos := make([]AlertInfo, 0, len(alerts))
	for _, alert := range alerts {
		infos = append(infos, convertToAlertInfo(alert))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *AlertService) MarkRead(w http.ResponseWriter, r *http.Request) {
	alertId, err := utils.URLParamUint(r, "alert_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var alert schema.Alert
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		alert, err = lifecycle.MarkRead(txn, user, alertId)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error marking alert as read: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToAlertInfo(alert))
}

func (s *AlertService) Delete(w http.ResponseWriter, r *http.Request) {
	alertId, err := utils.URLParamUint(r, "alert_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return lifecycle.DeleteAlert(txn, user, alertId)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting alert: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
