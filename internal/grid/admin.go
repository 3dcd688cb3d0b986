package grid

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gridctl/internal/httputil"
)

// AttachAdminRoutes mounts controller diagnostics under /debug/.
func (c *Client) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("grid", "Grid controller state and counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			Connection Connection `json:"connection"`
			Stats      Stats      `json:"stats"`
		}{c.Connection(), c.Stats()})
	})

	// POST command=<hex bytes>&reply=<n>
	debug.HandleSilentFunc("grid-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		req, err := parseHexCommand(r.FormValue("command"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		replyLen := 1
		if s := strings.TrimSpace(r.FormValue("reply")); s != "" {
			replyLen, err = strconv.Atoi(s)
			if err != nil || replyLen < 0 || replyLen > 64 {
				http.Error(w, "Invalid reply length", http.StatusBadRequest)
				return
			}
		}
		reply, err := c.Send(r.Context(), req, replyLen)
		if err != nil {
			http.Error(w, fmt.Sprintf("Command failed: %v (reply % X)", err, reply), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("sent % X, reply % X\n", req, reply))
	})
}

// parseHexCommand accepts bytes written as "44 01 C0", "4401c0" or
// "0x44 0x01".
func parseHexCommand(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.ToLower(s), "0x", "")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, fmt.Errorf("missing command")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex command: %w", err)
	}
	return b, nil
}
