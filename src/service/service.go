// Package service exposes a read-only HTTP view over a running banca process
// group: registered capabilities, account partitions, notification history
// and the current exchange rates.
package service

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/bancanet/banca/src/branch"
	"github.com/bancanet/banca/src/directory"
	"github.com/bancanet/banca/src/notification"
	"github.com/bancanet/banca/src/rates"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string

	dir          *directory.Directory
	branches     []*branch.Node
	notification *notification.Engine
	rates        *rates.Engine

	logger *logrus.Entry
}

// NewService ...
func NewService(
	bindAddress string,
	dir *directory.Directory,
	branches []*branch.Node,
	notif *notification.Engine,
	rateEngine *rates.Engine,
	logger *logrus.Entry,
) *Service {
	service := Service{
		bindAddress:  bindAddress,
		dir:          dir,
		branches:     branches,
		notification: notif,
		rates:        rateEngine,
		logger:       logger.WithField("component", "service"),
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering banca API handlers")
	http.HandleFunc("/directory", s.makeHandler(s.GetDirectory))
	http.HandleFunc("/accounts/", s.makeHandler(s.GetAccounts))
	http.HandleFunc("/notifications/", s.makeHandler(s.GetNotifications))
	http.HandleFunc("/rates", s.makeHandler(s.GetRates))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving banca API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetDirectory returns every registered service record.
func (s *Service) GetDirectory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.dir.Records())
}

// GetAccounts returns the account partition of one branch.
func (s *Service) GetAccounts(w http.ResponseWriter, r *http.Request) {
	moniker := strings.TrimPrefix(r.URL.Path, "/accounts/")

	for _, node := range s.branches {
		if node.Moniker() == moniker {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(node.Accounts())
			return
		}
	}

	http.Error(w, "unknown branch "+moniker, http.StatusNotFound)
}

// GetNotifications returns the stored notification records of one account.
func (s *Service) GetNotifications(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimPrefix(r.URL.Path, "/notifications/")

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.notification.Notifications(accountID))
}

// GetRates returns the current exchange-rate table.
func (s *Service) GetRates(w http.ResponseWriter, r *http.Request) {
	res := map[string]string{}
	for key, rate := range s.rates.Rates() {
		res[key] = rate.String()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}
