package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/auth"
	"github.com/Tyrowin/dmchat/internal/models"
	"github.com/Tyrowin/dmchat/internal/store"
)

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest is the body of PUT /auth/update-profile.
type UpdateProfileRequest struct {
	ProfilePic string `json:"profilePic"`
}

func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (h *Handler) issueSession(w http.ResponseWriter, userID string) error {
	token, err := h.tokens.Issue(userID)
	if err != nil {
		return err
	}
	h.tokens.SetCookie(w, token, h.cfg.IsProduction())
	return nil
}

// Signup creates an account and starts a session for it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = models.NormalizeEmail(req.Email)

	if req.FullName == "" || req.Email == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		h.Fail(w, r, err)
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		h.Error(w, http.StatusBadRequest, "Email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.Fail(w, r, apperr.Persistence("failed to look up email", err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	user := &models.User{FullName: req.FullName, Email: req.Email, Password: hash}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			h.Error(w, http.StatusBadRequest, "Email already exists")
			return
		}
		h.Fail(w, r, apperr.Persistence("failed to create user", err))
		return
	}

	if err := h.issueSession(w, user.ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	h.logger.Info().Str("user_id", user.ID).Msg("user signed up")
	h.JSON(w, http.StatusCreated, user)
}

// Login verifies credentials and starts a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		h.Fail(w, r, apperr.Persistence("failed to look up user", err))
		return
	}

	if !auth.CheckPassword(req.Password, user.Password) {
		h.Error(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	if err := h.issueSession(w, user.ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, user)
}

// Logout expires the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w, h.cfg.IsProduction())
	h.JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// currentUser loads the authenticated caller.
func (h *Handler) currentUser(r *http.Request) (*models.User, error) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return nil, apperr.Unauthenticated("Unauthorized - No Token Provided")
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Persistence("failed to load user", err)
	}
	return user, nil
}

// CheckAuth returns the authenticated user.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, user)
}

// UpdateProfile stores a new avatar reference for the caller.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	profilePic := strings.TrimSpace(req.ProfilePic)
	if profilePic == "" {
		h.Error(w, http.StatusBadRequest, "Profile pic is required")
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.store.UpdateProfilePic(r.Context(), userID, profilePic)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Fail(w, r, apperr.NotFound("User not found"))
			return
		}
		h.Fail(w, r, apperr.Persistence("failed to update profile", err))
		return
	}

	h.JSON(w, http.StatusOK, user)
}
