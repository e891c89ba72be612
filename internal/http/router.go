package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Meetings     *MeetingHandler
	Availability *AvailabilityHandler
	OAuth        *OAuthHandler
	Webhooks     *WebhookHandler
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Meetings != nil {
		mux.HandleFunc("/meetings", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Meetings.Propose(w, r)
		})
		mux.HandleFunc("/meetings/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitResourcePath(strings.TrimPrefix(r.URL.Path, "/meetings/"))
			if id == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithMeetingID(r.Context(), id))
			switch action {
			case "":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Meetings.Get(w, r)
			case "confirm":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Meetings.Confirm(w, r)
			case "reschedule":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Meetings.Reschedule(w, r)
			case "cancel":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Meetings.Cancel(w, r)
			case "sync":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Meetings.SyncStatus(w, r)
			case "sync/retry":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Meetings.RetrySync(w, r)
			default:
				http.NotFound(w, r)
			}
		})
		mux.HandleFunc("/contracts/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitResourcePath(strings.TrimPrefix(r.URL.Path, "/contracts/"))
			if id == "" || action != "meetings" {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			r = r.WithContext(ContextWithContractID(r.Context(), id))
			cfg.Meetings.ListByContract(w, r)
		})
	}

	if cfg.Availability != nil {
		mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitResourcePath(strings.TrimPrefix(r.URL.Path, "/users/"))
			if id == "" || action != "availability" {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			r = r.WithContext(ContextWithUserID(r.Context(), id))
			cfg.Availability.Resolve(w, r)
		})
	}

	if cfg.OAuth != nil {
		mux.HandleFunc("/oauth/authorize-url", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.OAuth.AuthorizeURL(w, r)
		})
		mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.OAuth.Callback(w, r)
		})
	}

	if cfg.Webhooks != nil {
		mux.HandleFunc("/webhooks/google", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Webhooks.Google(w, r)
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

// splitResourcePath separates "{id}" or "{id}/{action...}" into its parts.
func splitResourcePath(rest string) (id, action string) {
	rest = strings.Trim(rest, "/")
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i], rest[i+1:]
	}
	return rest, ""
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
