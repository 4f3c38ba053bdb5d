package routes

import (
	"github.com/AyushPandey003/quantcal-auth/internal/auth"
	"github.com/AyushPandey003/quantcal-auth/internal/handlers"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	"github.com/AyushPandey003/quantcal-auth/internal/security"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes.
//
// Every route passes through the gate once for the block check and the
// general per-IP quota. The sensitive endpoints nest a second gate with
// SkipBlockCheck set, adding their own quotas and captcha stage.
func RegisterRoutes(
	router chi.Router,
	gate *security.Gate,
	tokenManager *auth.TokenManager,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	adminHandler *handlers.AdminHandler,
) {
	router.Use(gate.Protect(security.GateConfig{
		Purpose: security.PurposeAPIByIP,
	}))

	router.With(gate.Protect(security.GateConfig{
		SkipBlockCheck: true,
		Purpose:        security.PurposeLoginByIP,
		EmailPurpose:   security.PurposeLoginByEmail,
		CaptchaAction:  "login",
	})).Post("/auth/login", authHandler.Login)

	router.With(gate.Protect(security.GateConfig{
		SkipBlockCheck: true,
		Purpose:        security.PurposeRegisterByIP,
		CaptchaAction:  "register",
	})).Post("/auth/register", authHandler.Register)

	router.With(gate.Protect(security.GateConfig{
		SkipBlockCheck: true,
		EmailPurpose:   security.PurposePasswordResetByEmail,
	})).Post("/auth/password-reset/request", authHandler.RequestPasswordReset)

	router.Post("/auth/refresh", authHandler.Refresh)
	router.Post("/auth/logout", authHandler.Logout)

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Get("/users/me", userHandler.Me)
		r.Post("/users/me/password", userHandler.ChangePassword)

		// Admin-only block management
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/admin/blocks/{ip}", adminHandler.GetBlock)
			r.Post("/admin/blocks", adminHandler.CreateBlock)
			r.Delete("/admin/blocks/{ip}", adminHandler.DeleteBlock)
			r.Delete("/admin/blocks/{ip}/escalation", adminHandler.ResetEscalation)
		})
	})
}
