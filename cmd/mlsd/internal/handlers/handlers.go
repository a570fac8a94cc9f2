/*
Package handlers exposes the engine's group operations over HTTP and a
websocket stream, following the teacher's handlers.ServeWs/HealthCheck
shape (cmd/messaging-service/internal/handlers/websocket.go): each
handler is a thin adapter, request/response bodies are plain JSON with
base64 for binary fields, and the websocket side only proves the wire
codec round-trips — there is no store-and-forward, ordering, or
multi-recipient fanout here, all of which the engine's Non-goals leave to
a real delivery service.
*/
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kindlyrobotics/mlsengine/cmd/mlsd/internal/server"
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/codec"
	"github.com/kindlyrobotics/mlsengine/internal/mls/group"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
)

// API bundles the dependencies every handler needs: the group
// registry and the default cipher suite new groups are created with.
type API struct {
	Registry *server.Registry
	Suite    ciphersuite.Suite
	Logger   *log.Logger
}

// NewAPI wires an API against registry, falling back to log.Default()
// for logging, per the ambient logging convention.
func NewAPI(registry *server.Registry, suite ciphersuite.Suite, logger *log.Logger) *API {
	if logger == nil {
		logger = log.Default()
	}
	return &API{Registry: registry, Suite: suite, Logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handlers] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthCheck reports the daemon is up, matching the teacher's plain
// 200-plus-body health endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("mlsd is healthy"))
}

// CreateGroupRequest supplies the founding member's credentials.
type CreateGroupRequest struct {
	KeyPackagePublicKeyB64  string `json:"key_package_public_key"`
	KeyPackagePrivateKeyB64 string `json:"key_package_private_key"`
	SignaturePublicKeyB64   string `json:"signature_public_key"`
	SignaturePrivateKeyB64  string `json:"signature_private_key"`
	CredentialB64           string `json:"credential"`
}

// CreateGroupResponse returns the newly created group's id.
type CreateGroupResponse struct {
	GroupID string `json:"group_id"`
}

// CreateGroup implements POST /groups: builds a fresh single-member
// group via group.Create and registers it.
func (a *API) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	provider, err := ciphersuite.New(a.Suite)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	kp, err := decodeAll(req.KeyPackagePublicKeyB64, req.KeyPackagePrivateKeyB64, req.SignaturePublicKeyB64, req.SignaturePrivateKeyB64, req.CredentialB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := uuid.New()
	g, err := group.Create(provider, id[:], group.CreatorKeyPackage{
		KeyPackagePublicKey:  kp[0],
		KeyPackagePrivateKey: kp[1],
		SignaturePublicKey:   kp[2],
		SignaturePrivateKey:  kp[3],
		Credential:           kp[4],
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.Registry.Put(id, g)
	a.Logger.Printf("[mlsd] created group %s", id)
	writeJSON(w, http.StatusCreated, CreateGroupResponse{GroupID: id.String()})
}

// ProposeRequest carries one proposal to submit; only the "remove" type
// is accepted.
type ProposeRequest struct {
	Type string `json:"type"`
	Remove *struct {
		Leaf uint32 `json:"leaf"`
	} `json:"remove,omitempty"`
}

// Propose implements POST /groups/{id}/propose for Remove, the only
// proposal kind that needs no extra key material beyond what's already
// in the request (Add/Update require a full key package and are left
// to a richer client than this demo daemon provides).
func (a *API) Propose(w http.ResponseWriter, r *http.Request) {
	g, ok := a.groupFromPath(w, r)
	if !ok {
		return
	}

	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Type != "remove" || req.Remove == nil {
		writeError(w, http.StatusBadRequest, errUnsupportedProposal)
		return
	}

	pt, err := g.Propose(proposal.Proposal{
		Type:   proposal.TypeRemove,
		Remove: &proposal.Remove{Removed: req.Remove.Leaf},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"plaintext": encodeB64(codec.EncodePlaintext(pt))})
}

// Commit implements POST /groups/{id}/commit: commits every cached
// proposal and applies it to the caller's own state, returning the
// framed commit plus an optional Welcome for anyone added.
func (a *API) Commit(w http.ResponseWriter, r *http.Request) {
	g, ok := a.groupFromPath(w, r)
	if !ok {
		return
	}

	pc, err := g.CommitProposals(group.CommitOptions{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.Apply(pc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]string{"plaintext": encodeB64(codec.EncodePlaintext(pc.Plaintext))}
	if pc.Welcome != nil {
		resp["welcome"] = encodeB64(codec.EncodeWelcome(pc.Welcome))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) groupFromPath(w http.ResponseWriter, r *http.Request) (*group.Group, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	g, ok := a.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errGroupNotFound)
		return nil, false
	}
	return g, true
}

// upgrader mirrors the teacher's permissive CheckOrigin — fine for a
// local demo daemon, not for a production deployment.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamCiphertext implements GET /ws: upgrades the connection and
// echoes back every framed MLSCiphertext it receives, decoded then
// re-encoded through the wire codec, proving the codec round-trips
// over an actual transport the way the teacher's ServeWs proves its
// own message envelope does.
func (a *API) StreamCiphertext(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Printf("[mlsd] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ct, err := codec.DecodeCiphertext(payload)
		if err != nil {
			a.Logger.Printf("[mlsd] decode ciphertext: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, codec.EncodeCiphertext(ct)); err != nil {
			return
		}
	}
}
