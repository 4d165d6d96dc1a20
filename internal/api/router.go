package api

import (
	"github.com/go-chi/chi/v5"
)

// Handlers groups the authenticated REST handlers
type Handlers struct {
	Console  *ConsoleHandler
	Lookup   *LookupHandler
	Dispatch *DispatchHandler
	Agents   *AgentActionsHandler
	Roster   *RosterHandler
	History  *AgentHistoryHandler
	Admin    *AdminHandler
}

// Mount registers every authenticated route on r. Nil handlers are skipped.
func Mount(r chi.Router, h Handlers) {
	if h.Agents != nil {
		r.Post("/agent/status", h.Agents.SetStatus)
		r.Get("/agent/adminid/{firebaseUid}", h.Agents.GetAdminID)
		r.Get("/agent/presence", h.Agents.GetPresence)
	}
	if h.Roster != nil {
		r.Post("/agent/register", h.Roster.HandleRegister)
	}

	r.Route("/call", func(r chi.Router) {
		if h.Lookup != nil {
			r.Post("/memberid/lookup", h.Lookup.LookupMember)
			r.Get("/address/lookup/{addressId}", h.Lookup.LookupAddress)
			r.Post("/address/lookup", h.Lookup.LookupAddress)
			r.Post("/servicemen/available", h.Lookup.AvailableServicemen)
		}
		if h.Dispatch != nil {
			r.Post("/dispatch", h.Dispatch.SaveDispatch)
			r.Get("/dispatch/details/{orderId}", h.Dispatch.GetDetails)
		}
	})

	r.Route("/api", func(r chi.Router) {
		if h.Console != nil {
			r.Route("/console", h.Console.Routes)
		}
		if h.History != nil {
			r.Get("/agents/{agentId}/sessions", h.History.GetSessions)
			r.Get("/agents/{agentId}/presence", h.History.GetPresence)
		}
		if h.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/sim/status", h.Admin.GetSimStatus)
				r.Post("/sim/start", h.Admin.StartSim)
				r.Post("/sim/stop", h.Admin.StopSim)
				r.Get("/sim/calls/config", h.Admin.GetCallConfig)
				r.Put("/sim/calls/config", h.Admin.UpdateCallConfig)
				r.Post("/calls/inject", h.Admin.InjectCalls)
				r.Delete("/calls", h.Admin.WipeAllCalls)
				r.Post("/reset", h.Admin.ResetMemory)
				r.Delete("/history", h.Admin.WipeHistory)
			})
		}
	})
}
