package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Presence and format rules live in the gateway so every caller gets the same
// messages; the tags here only bound input size.
type signupRequest struct {
	Email    string `json:"email" validate:"max=320"`
	Password string `json:"password" validate:"max=1024"`
	Name     string `json:"name,omitempty" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"max=320"`
	Password string `json:"password" validate:"max=1024"`
}

type authResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	User    domain.PublicUser `json:"user"`
}

type userResponse struct {
	Success bool              `json:"success"`
	User    domain.PublicUser `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Signup creates a new account and returns a token for it.
//
// @Summary      Sign up
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signupRequest  true  "Account details"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/auth/signup [post]
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.authService.Register(c.Request().Context(), ports.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		ClientAddr: c.RealIP(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResponse{Success: true, Token: res.Token, User: res.User})
}

// Login exchanges credentials for a token.
//
// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.authService.Login(c.Request().Context(), ports.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		ClientAddr: c.RealIP(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, authResponse{Success: true, Token: res.Token, User: res.User})
}

// Verify returns the current user for a valid bearer token.
//
// @Summary      Verify token
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  userResponse
// @Failure      401  {object}  map[string]string
// @Router       /api/auth/verify [get]
func (h *AuthHandler) Verify(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{Success: true, User: p.User})
}

// Logout ends the session. It succeeds even without a valid token.
//
// @Summary      Log out
// @Tags         auth
// @Produce      json
// @Success      200  {object}  successResponse
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.authService.Logout(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domain.NewValidationError("Invalid request body")
	}
	return c.Validate(req)
}
