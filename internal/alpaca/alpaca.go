// Package alpaca implements the ASCOM Alpaca telescope-control protocol
// adapter described in spec §6: a minimal Telescope device (connected,
// rightascension, declination, slewtoradec, synctoradec, abortslew,
// tracking, sitelatitude/sitelongitude) over HTTP on TCP:11111, the
// mandatory UDP discovery responder on :32227, and the bare
// /management/apiversions surface a conformant Alpaca client polls before
// talking to the device API. Routing follows the donor pipeline's own
// gorilla/mux-based HTTP server shape (one handler per resource, JSON
// envelope on every response).
package alpaca

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"

	"cedar/internal/telescope"
)

const deviceNumber = "0"

// envelope is the standard Alpaca response wrapper.
type envelope struct {
	Value                 any    `json:"Value,omitempty"`
	ErrorNumber            int    `json:"ErrorNumber"`
	ErrorMessage           string `json:"ErrorMessage"`
	ClientTransactionID    uint32 `json:"ClientTransactionID"`
	ServerTransactionID    uint32 `json:"ServerTransactionID"`
}

// Server is the Alpaca adapter bound to the shared telescope record.
type Server struct {
	rec         *telescope.Record
	logger      *slog.Logger
	deviceName  string
	listenAddr  string
	discoveryPort int

	connected atomic.Bool
	tracking  atomic.Bool
	txnSeq    atomic.Uint32
}

// New returns a Server. Call Router to obtain its http.Handler and
// ServeDiscovery to start the UDP responder.
func New(rec *telescope.Record, deviceName, listenAddr string, discoveryPort int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{rec: rec, deviceName: deviceName, listenAddr: listenAddr, discoveryPort: discoveryPort, logger: logger}
	s.tracking.Store(true)
	return s
}

// Router returns the mux.Router serving both the management API and the
// Telescope device API.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/management/apiversions", s.handleAPIVersions).Methods(http.MethodGet)
	r.HandleFunc("/management/v1/description", s.handleDescription).Methods(http.MethodGet)
	r.HandleFunc("/management/v1/configureddevices", s.handleConfiguredDevices).Methods(http.MethodGet)

	base := "/api/v1/telescope/" + deviceNumber
	r.HandleFunc(base+"/connected", s.handleConnectedGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/connected", s.handleConnectedPut).Methods(http.MethodPut)
	r.HandleFunc(base+"/rightascension", s.handleRA).Methods(http.MethodGet)
	r.HandleFunc(base+"/declination", s.handleDec).Methods(http.MethodGet)
	r.HandleFunc(base+"/tracking", s.handleTrackingGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/tracking", s.handleTrackingPut).Methods(http.MethodPut)
	r.HandleFunc(base+"/sitelatitude", s.handleSiteLatGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/sitelatitude", s.handleSiteLatPut).Methods(http.MethodPut)
	r.HandleFunc(base+"/sitelongitude", s.handleSiteLonGet).Methods(http.MethodGet)
	r.HandleFunc(base+"/sitelongitude", s.handleSiteLonPut).Methods(http.MethodPut)
	r.HandleFunc(base+"/slewtoradec", s.handleSlewToRaDec).Methods(http.MethodPut)
	r.HandleFunc(base+"/slewtocoordinatesasync", s.handleSlewToRaDec).Methods(http.MethodPut)
	r.HandleFunc(base+"/synctoradec", s.handleSyncToRaDec).Methods(http.MethodPut)
	r.HandleFunc(base+"/abortslew", s.handleAbortSlew).Methods(http.MethodPut)
	r.HandleFunc(base+"/slewing", s.handleSlewing).Methods(http.MethodGet)
	return r
}

// ServeDiscovery runs the UDP Alpaca discovery responder on a socket it
// opens itself, until a read from that socket fails; it closes the socket
// on return. It blocks, so callers run it in its own goroutine.
func (s *Server) ServeDiscovery() error {
	addr := &net.UDPAddr{Port: s.discoveryPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("alpaca: listen discovery udp: %w", err)
	}
	defer conn.Close()

	_, portStr, err := net.SplitHostPort(s.listenAddr)
	if err != nil {
		portStr = s.listenAddr
	}
	port, _ := strconv.Atoi(portStr)

	buf := make([]byte, 64)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		if string(buf[:n]) != "alpacadiscovery1" {
			continue
		}
		resp, _ := json.Marshal(map[string]int{"AlpacaPort": port})
		if _, err := conn.WriteToUDP(resp, remote); err != nil {
			s.logger.Warn("alpaca discovery reply failed", "error", err)
		}
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, value any, errNum int, errMsg string) {
	clientTxn, _ := strconv.Atoi(r.URL.Query().Get("ClientTransactionID"))
	env := envelope{
		Value:               value,
		ErrorNumber:         errNum,
		ErrorMessage:        errMsg,
		ClientTransactionID: uint32(clientTxn),
		ServerTransactionID: s.txnSeq.Add(1),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func (s *Server) handleAPIVersions(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, r, []int{1}, 0, "")
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, r, map[string]string{
		"ServerName":  s.deviceName,
		"Manufacturer": "Cedar",
		"ServerVersion": "1.0",
	}, 0, "")
}

func (s *Server) handleConfiguredDevices(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, r, []map[string]string{
		{"DeviceName": s.deviceName, "DeviceType": "Telescope", "DeviceNumber": deviceNumber, "UniqueID": "cedar-telescope-0"},
	}, 0, "")
}

func (s *Server) handleConnectedGet(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, r, s.connected.Load(), 0, "")
}

func (s *Server) handleConnectedPut(w http.ResponseWriter, r *http.Request) {
	s.connected.Store(r.FormValue("Connected") == "true")
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleRA(w http.ResponseWriter, r *http.Request) {
	pos := s.rec.Snapshot()
	s.writeEnvelope(w, r, pos.BoresightRa/15.0, 0, "")
}

func (s *Server) handleDec(w http.ResponseWriter, r *http.Request) {
	pos := s.rec.Snapshot()
	s.writeEnvelope(w, r, pos.BoresightDec, 0, "")
}

func (s *Server) handleTrackingGet(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, r, s.tracking.Load(), 0, "")
}

func (s *Server) handleTrackingPut(w http.ResponseWriter, r *http.Request) {
	s.tracking.Store(r.FormValue("Tracking") == "true")
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleSiteLatGet(w http.ResponseWriter, r *http.Request) {
	lat, _, ok := s.rec.Site()
	if !ok {
		s.writeEnvelope(w, r, nil, 1031, "site not set")
		return
	}
	s.writeEnvelope(w, r, lat, 0, "")
}

func (s *Server) handleSiteLatPut(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.FormValue("SiteLatitude"), 64)
	if err != nil {
		s.writeEnvelope(w, r, nil, 1025, "invalid value")
		return
	}
	_, lon, ok := s.rec.Site()
	if !ok {
		lon = 0
	}
	s.rec.SetSite(lat, lon)
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleSiteLonGet(w http.ResponseWriter, r *http.Request) {
	_, lon, ok := s.rec.Site()
	if !ok {
		s.writeEnvelope(w, r, nil, 1031, "site not set")
		return
	}
	s.writeEnvelope(w, r, lon, 0, "")
}

func (s *Server) handleSiteLonPut(w http.ResponseWriter, r *http.Request) {
	lon, err := strconv.ParseFloat(r.FormValue("SiteLongitude"), 64)
	if err != nil {
		s.writeEnvelope(w, r, nil, 1025, "invalid value")
		return
	}
	lat, _, ok := s.rec.Site()
	if !ok {
		lat = 0
	}
	s.rec.SetSite(lat, lon)
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleSlewToRaDec(w http.ResponseWriter, r *http.Request) {
	raHours, err1 := strconv.ParseFloat(r.FormValue("RightAscension"), 64)
	dec, err2 := strconv.ParseFloat(r.FormValue("Declination"), 64)
	if err1 != nil || err2 != nil {
		s.writeEnvelope(w, r, nil, 1025, "invalid coordinates")
		return
	}
	s.rec.RequestSlew(raHours*15.0, dec)
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleSyncToRaDec(w http.ResponseWriter, r *http.Request) {
	raHours, err1 := strconv.ParseFloat(r.FormValue("RightAscension"), 64)
	dec, err2 := strconv.ParseFloat(r.FormValue("Declination"), 64)
	if err1 != nil || err2 != nil {
		s.writeEnvelope(w, r, nil, 1025, "invalid coordinates")
		return
	}
	s.rec.RequestSync(raHours*15.0, dec)
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleAbortSlew(w http.ResponseWriter, r *http.Request) {
	s.rec.AbortSlew()
	s.writeEnvelope(w, r, nil, 0, "")
}

func (s *Server) handleSlewing(w http.ResponseWriter, r *http.Request) {
	_, _, active := s.rec.SlewTarget()
	s.writeEnvelope(w, r, active, 0, "")
}
