// Command example runs a small HTTP server demonstrating the session engine
// wired to a SQLite-backed store, httprouter for routing, and
// go-playground/validator for request-body validation.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/exp/slog"

	session "github.com/ISibboI/typed-session-go"
	"github.com/ISibboI/typed-session-go/store/sql"
)

// visitorData is the payload carried by each visitor's session.
type visitorData struct {
	Visits      int
	DisplayName string
}

// profileUpdate is the body of POST /profile, validated before it is
// written into the session.
type profileUpdate struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=64"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	connector, err := sql.NewSQLite[visitorData](cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer connector.Close()

	store := session.NewSessionStore[visitorData](connector, &session.Options{
		Renewal: session.RenewalAutomatic{
			TTL:                    time.Duration(cfg.SessionHours) * time.Hour,
			MaxRemainingForRenewal: time.Duration(cfg.SessionHours) * time.Hour / 2,
		},
	})

	srv := &server{cfg: cfg, store: store, validate: validator.New()}

	router := httprouter.New()
	router.GET("/", srv.handleIndex)
	router.POST("/profile", srv.handleUpdateProfile)
	router.POST("/logout", srv.handleLogout)

	slog.Info("demo server starting", "addr", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, router))
}

type server struct {
	cfg      Config
	store    *session.SessionStore[visitorData]
	validate *validator.Validate
}

func (s *server) loadOrNew(r *http.Request) *session.Session[visitorData] {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return session.NewWithData(visitorData{})
	}
	sess, err := s.store.LoadSession(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to load session, starting a new one", "error", err)
		return session.NewWithData(visitorData{})
	}
	if sess == nil {
		return session.NewWithData(visitorData{})
	}
	return sess
}

func (s *server) persist(w http.ResponseWriter, r *http.Request, sess *session.Session[visitorData]) error {
	cmd, err := s.store.StoreSession(r.Context(), sess)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case session.CookieSet:
		cookie := &http.Cookie{
			Name:     s.cfg.CookieName,
			Value:    cmd.Value,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		}
		if at, ok := cmd.Expiry.Time(); ok {
			cookie.Expires = at
		}
		http.SetCookie(w, cookie)
	case session.CookieDelete:
		http.SetCookie(w, &http.Cookie{
			Name:   s.cfg.CookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}
	return nil
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess := s.loadOrNew(r)
	sess.DataMut().Visits++
	if err := s.persist(w, r, sess); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "visit count: %d\n", sess.Data().Visits)
}

func (s *server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body profileUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sess := s.loadOrNew(r)
	sess.DataMut().Visits++
	sess.DataMut().DisplayName = body.DisplayName
	if err := s.persist(w, r, sess); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "profile updated for %s\n", body.DisplayName)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess := s.loadOrNew(r)
	sess.Delete()
	if err := s.persist(w, r, sess); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, "logged out\n")
}
