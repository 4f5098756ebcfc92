package scpi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a raw command endpoint for s under
// /debug/scpi/<server>. POST device and command form values; commands
// ending in '?' return the instrument's response.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("scpi/"+s.name, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		device := strings.TrimSpace(r.FormValue("device"))
		command := strings.TrimSpace(r.FormValue("command"))
		if device == "" || command == "" {
			http.Error(w, "Missing device or command", http.StatusBadRequest)
			return
		}
		resp, err := s.Raw(device, command)
		if err != nil {
			http.Error(w, fmt.Sprintf("Command failed: %v", err), http.StatusBadGateway)
			return
		}
		if resp == "" {
			io.WriteString(w, fmt.Sprintf("Wrote command %q to %s", command, device))
			return
		}
		io.WriteString(w, resp)
	})
}
