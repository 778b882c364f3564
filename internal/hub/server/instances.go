package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/httpx"
	"github.com/chatwire/chatwire/internal/hub/broadcaster"
	"github.com/chatwire/chatwire/internal/hub/session"
	"github.com/chatwire/chatwire/internal/hub/transport"
)

// artifactWait bounds how long a connect request blocks for the first
// QR/pairing artifact before answering without one.
const artifactWait = 3 * time.Second

// ResponseHandlerParam defines the configuration for HTTP route handlers.
type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler httpx.RequestHandler
}

func (s *HubServer) mountInstanceHandlers(r chi.Router) {
	handlers := []ResponseHandlerParam{
		{Method: http.MethodPost, Path: "/", Handler: s.createInstance},
		{Method: http.MethodPost, Path: "/{instanceId}/connect", Handler: s.connectInstance},
		{Method: http.MethodPost, Path: "/{instanceId}/disconnect", Handler: s.disconnectInstance},
		{Method: http.MethodPost, Path: "/{instanceId}/send", Handler: s.sendMessage},
		{Method: http.MethodPost, Path: "/{instanceId}/regenerate-credentials", Handler: s.regenerateCredentials},
		{Method: http.MethodGet, Path: "/{instanceId}/qr", Handler: s.getQRCode},
		{Method: http.MethodGet, Path: "/{instanceId}/pairing-code", Handler: s.getPairingCode},
		{Method: http.MethodDelete, Path: "/{instanceId}", Handler: s.deleteInstance},
	}
	r.Route("/instances", func(r chi.Router) {
		for _, handler := range handlers {
			r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
		}
	})
}

type createInstanceReq struct {
	InstanceID string `json:"instanceId"`
	AuthDir    string `json:"authDir,omitempty"`
}

type createInstanceRsp struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instanceId"`
}

func (s *HubServer) createInstance(r *http.Request) (*httpx.Response, error) {
	req := &createInstanceReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if req.InstanceID == "" {
		return nil, httpx.ErrInvalidRequest("instanceId is required")
	}

	sess, err := s.manager.CreateInstance(req.InstanceID, req.AuthDir)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Track(sess)
	s.broadcaster.Push()

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/api/instances/" + req.InstanceID,
		Response:   &createInstanceRsp{Success: true, InstanceID: req.InstanceID},
	}, nil
}

type connectInstanceRsp struct {
	Success     bool   `json:"success"`
	AuthMethod  string `json:"authMethod"`
	QRCode      string `json:"qrCode,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

func (s *HubServer) connectInstance(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	sess, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}

	method := transport.AuthMethod(r.URL.Query().Get("authMethod"))
	if method == "" {
		method = transport.AuthMethodQR
	}
	opts := session.ConnectOptions{
		AuthMethod:  method,
		PhoneNumber: r.URL.Query().Get("phoneNumber"),
	}
	if err := sess.Connect(r.Context(), opts); err != nil {
		return nil, err
	}

	rsp := &connectInstanceRsp{Success: true, AuthMethod: string(method)}
	rsp.QRCode, rsp.PairingCode = awaitArtifact(sess, method)
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

// awaitArtifact blocks until the session produces its first auth artifact,
// opens without one (already linked), or the wait budget expires. Connects
// against persisted credentials go straight to open, so both races are
// expected.
func awaitArtifact(sess *session.Session, method transport.AuthMethod) (qr string, pairing string) {
	artifactCh := make(chan string, 1)
	openCh := make(chan struct{}, 1)

	var offArtifact func()
	if method == transport.AuthMethodPhone {
		id := sess.OnPairingCode(func(code string) {
			select {
			case artifactCh <- code:
			default:
			}
		})
		offArtifact = func() { sess.OffPairingCode(id) }
	} else {
		id := sess.OnQRCode(func(code string) {
			select {
			case artifactCh <- code:
			default:
			}
		})
		offArtifact = func() { sess.OffQRCode(id) }
	}
	defer offArtifact()

	connID := sess.OnConnected(func() {
		select {
		case openCh <- struct{}{}:
		default:
		}
	})
	defer sess.OffConnected(connID)

	if sess.Status() == session.StatusConnected {
		return "", ""
	}

	select {
	case artifact := <-artifactCh:
		if method == transport.AuthMethodPhone {
			return "", artifact
		}
		return artifact, ""
	case <-openCh:
		return "", ""
	case <-time.After(artifactWait):
		log.Debug().Str("instance_id", sess.InstanceID()).Msg("no auth artifact before deadline")
		return sess.CurrentQRCode(), sess.CurrentPairingCode()
	}
}

type successRsp struct {
	Success bool `json:"success"`
}

func (s *HubServer) disconnectInstance(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	if err := s.manager.DisconnectInstance(r.Context(), instanceID); err != nil {
		return nil, err
	}
	s.broadcaster.Forget(instanceID)
	return &httpx.Response{StatusCode: http.StatusOK, Response: &successRsp{Success: true}}, nil
}

// deleteInstance removes an instance. Removal always disconnects first, so
// this shares the disconnect path.
func (s *HubServer) deleteInstance(r *http.Request) (*httpx.Response, error) {
	return s.disconnectInstance(r)
}

type sendMessageReq struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *HubServer) sendMessage(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	sess, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}

	req := &sendMessageReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if req.To == "" || req.Message == "" {
		return nil, httpx.ErrInvalidRequest("to and message are required")
	}

	if err := sess.SendMessage(r.Context(), req.To, req.Message); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: &successRsp{Success: true}}, nil
}

func (s *HubServer) regenerateCredentials(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	sess, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	if err := sess.GenerateNewCredentials(r.Context()); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: &successRsp{Success: true}}, nil
}

func (s *HubServer) getQRCode(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	sess, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]string{"qrCode": sess.CurrentQRCode()},
	}, nil
}

func (s *HubServer) getPairingCode(r *http.Request) (*httpx.Response, error) {
	instanceID := chi.URLParam(r, "instanceId")
	sess, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]string{"pairingCode": sess.CurrentPairingCode()},
	}, nil
}

type connectionsRsp struct {
	Connections []broadcaster.ConnectionStatus `json:"connections"`
}

func (s *HubServer) getConnections(r *http.Request) (*httpx.Response, error) {
	s.broadcaster.Refresh()
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &connectionsRsp{Connections: s.broadcaster.Snapshot()},
	}, nil
}
