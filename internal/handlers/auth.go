package handlers

import (
	"net/http"

	"github.com/lingomate/backend/internal/accounts"
	"github.com/lingomate/backend/internal/auth"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/models"
)

// AuthHandler implements signup, login, logout and onboarding.
type AuthHandler struct {
	Accounts      AccountService
	Sessions      SessionIssuer
	SecureCookies bool
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type onboardRequest struct {
	FullName         string `json:"fullName"`
	Bio              string `json:"bio"`
	NativeLanguage   string `json:"nativeLanguage"`
	LearningLanguage string `json:"learningLanguage"`
	Location         string `json:"location"`
	ProfilePic       string `json:"profilePic"`
}

type userResponse struct {
	Success bool        `json:"success"`
	User    models.User `json:"user"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SignUp handles POST /api/auth/signup.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	user, err := h.Accounts.Signup(ctx, accounts.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	respondJSON(ctx, w, http.StatusCreated, userResponse{Success: true, User: user})
}

// Login handles POST /api/auth/login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	user, err := h.Accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	respondJSON(ctx, w, http.StatusOK, userResponse{Success: true, User: user})
}

// Logout handles POST /api/auth/logout. Sessions are stateless so only the
// cookie is cleared.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.SecureCookies)
	respondJSON(r.Context(), w, http.StatusOK, successResponse{Success: true, Message: "Logged out successfully"})
}

// Onboard handles POST /api/auth/onboarding.
func (h AuthHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "Unauthorized - No token provided")
		return
	}

	var req onboardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	user, err := h.Accounts.Onboard(ctx, current.ID, accounts.OnboardInput{
		FullName:         req.FullName,
		Bio:              req.Bio,
		NativeLanguage:   req.NativeLanguage,
		LearningLanguage: req.LearningLanguage,
		Location:         req.Location,
		ProfilePic:       req.ProfilePic,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, userResponse{Success: true, User: user})
}

// Me handles GET /api/auth/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "Unauthorized - No token provided")
		return
	}
	respondJSON(ctx, w, http.StatusOK, userResponse{Success: true, User: user})
}

func (h AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user models.User) bool {
	token, _, err := h.Sessions.Issue(user.ID)
	if err != nil {
		respondError(r.Context(), w, err)
		return false
	}
	auth.SetSessionCookie(w, token, h.Sessions.TTL(), h.SecureCookies)
	return true
}
