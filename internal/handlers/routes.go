package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lingomate/backend/internal/metrics"
	"github.com/lingomate/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts      AccountService
	Sessions      SessionIssuer
	Tokens        middleware.TokenVerifier
	Friends       FriendService
	Chat          ChatService
	Users         UserDirectory
	AuthLimiter   middleware.RateLimiter
	SecureCookies bool
}

// NewRouter wires HTTP handlers into a gorilla/mux router. Protected routes
// run behind the session middleware; signup and login are rate limited.
func NewRouter(deps Dependencies) *mux.Router {
	health := HealthHandler{}
	authHandler := AuthHandler{Accounts: deps.Accounts, Sessions: deps.Sessions, SecureCookies: deps.SecureCookies}
	users := UserHandler{Friends: deps.Friends, Accounts: deps.Accounts, Chat: deps.Chat, Users: deps.Users}
	chatHandler := ChatHandler{Chat: deps.Chat, Users: deps.Users}

	router := mux.NewRouter()
	router.Use(metrics.Instrument)
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/healthz", health.Handle).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	session := middleware.RequireSession(deps.Tokens, deps.Users)

	authRoutes := router.PathPrefix("/api/auth").Subrouter()
	authRoutes.Handle("/signup", limited(deps.AuthLimiter, "signup", authHandler.SignUp)).Methods(http.MethodPost)
	authRoutes.Handle("/login", limited(deps.AuthLimiter, "login", authHandler.Login)).Methods(http.MethodPost)
	authRoutes.HandleFunc("/logout", authHandler.Logout).Methods(http.MethodPost)
	authRoutes.Handle("/onboarding", session(http.HandlerFunc(authHandler.Onboard))).Methods(http.MethodPost)
	authRoutes.Handle("/me", session(http.HandlerFunc(authHandler.Me))).Methods(http.MethodGet)

	router.Handle("/api/users", session(http.HandlerFunc(users.Recommended))).Methods(http.MethodGet)

	userRoutes := router.PathPrefix("/api/users").Subrouter()
	userRoutes.Use(session)
	userRoutes.HandleFunc("/avatar", users.UploadAvatar).Methods(http.MethodPost)
	userRoutes.HandleFunc("/friends", users.MyFriends).Methods(http.MethodGet)
	userRoutes.HandleFunc("/friend-request/{id}", users.SendFriendRequest).Methods(http.MethodPost)
	userRoutes.HandleFunc("/friend-request/{id}/accept", users.AcceptFriendRequest).Methods(http.MethodPut)
	userRoutes.HandleFunc("/friend-requests", users.FriendRequests).Methods(http.MethodGet)
	userRoutes.HandleFunc("/outgoing-friend-requests", users.OutgoingFriendRequests).Methods(http.MethodGet)
	userRoutes.HandleFunc("/latest-chats", users.LatestChats).Methods(http.MethodGet)

	chatRoutes := router.PathPrefix("/api/chat").Subrouter()
	chatRoutes.Use(session)
	chatRoutes.HandleFunc("/token", chatHandler.Token).Methods(http.MethodGet)
	chatRoutes.HandleFunc("/notify", chatHandler.Notify).Methods(http.MethodPost)

	return router
}

func limited(limiter middleware.RateLimiter, scope string, h http.HandlerFunc) http.Handler {
	if limiter == nil {
		return h
	}
	return middleware.RateLimit(limiter, scope)(h)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondMessage(r.Context(), w, http.StatusNotFound, "Not Found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondMessage(r.Context(), w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
