package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"moff.io/snap-bridge/internal/database"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
)

type sessionView struct {
	PluginInstalled bool                `json:"plugin_installed"`
	PluginReady     bool                `json:"plugin_ready"`
	Snap            *snap.InstalledSnap `json:"snap,omitempty"`
	Network         *snap.Network       `json:"network,omitempty"`
	ProviderReady   bool                `json:"provider_ready"`
	ChainID         string              `json:"chain_id,omitempty"`
	Accounts        []snap.Account      `json:"accounts"`
	Signer          string              `json:"signer,omitempty"`
	SignerStatus    string              `json:"signer_status"`
	LastError       string              `json:"last_error,omitempty"`
}

func newSessionView(s session.Snapshot) *sessionView {
	v := &sessionView{
		PluginInstalled: s.PluginInstalled,
		PluginReady:     s.PluginReady,
		Snap:            s.Snap,
		Network:         s.Network,
		ProviderReady:   s.Provider != nil,
		Accounts:        s.Accounts,
		SignerStatus:    s.SignerStatus.String(),
	}
	if v.Accounts == nil {
		v.Accounts = []snap.Account{}
	}
	if s.Provider != nil {
		v.ChainID = s.Provider.ChainID().String()
	}
	if s.Signer != nil {
		v.Signer = s.Signer.Address().Hex()
	}
	if s.LastError != nil {
		v.LastError = s.LastError.Error()
	}
	return v
}

func (s *Server) getSession(ctx *gin.Context) {
	ok(ctx, newSessionView(s.bridge.Snapshot()))
}

type sessionEvent struct {
	Changed []string     `json:"changed"`
	Session *sessionView `json:"session"`
}

// streamSession sends the session as server-sent "session" events: one on connect, then one
// after each change. Changes made while the client is slow to read are merged into the next
// event; the bridge never waits for the client. The stream ends with the request timeout and
// clients reconnect.
func (s *Server) streamSession(ctx *gin.Context) {
	changes := s.bridge.State().Watch(ctx.Request.Context())
	ctx.Header("Cache-Control", "no-cache")
	ctx.SSEvent("session", sessionEvent{Changed: []string{}, Session: newSessionView(s.bridge.Snapshot())})
	ctx.Writer.Flush()
	ctx.Stream(func(w io.Writer) bool {
		changed, open := <-changes
		if !open {
			return false
		}
		ctx.SSEvent("session", sessionEvent{Changed: changed.Names(), Session: newSessionView(s.bridge.Snapshot())})
		return true
	})
}

func (s *Server) getPairing(ctx *gin.Context) {
	if s.pairer == nil {
		fail(ctx, errors.Wrap(snap.ErrTransportUnavailable, "no relay transport"))
		return
	}
	ok(ctx, gin.H{"uri": s.pairer.Pairing().URI()})
}

func (s *Server) getPairingQRCode(ctx *gin.Context) {
	if s.pairer == nil {
		fail(ctx, errors.Wrap(snap.ErrTransportUnavailable, "no relay transport"))
		return
	}
	png, err := s.pairer.PairingQRCode()
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

func (s *Server) connect(ctx *gin.Context) {
	installed, err := s.bridge.Connect(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, installed)
}

func (s *Server) initKeyring(ctx *gin.Context) {
	if err := s.bridge.InitKeyring(ctx.Request.Context()); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, true)
}

func (s *Server) getNetwork(ctx *gin.Context) {
	network, err := s.bridge.GetActiveNetwork(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, network)
}

func (s *Server) switchNetwork(ctx *gin.Context) {
	network, err := s.bridge.SwitchNetwork(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, network)
}

func (s *Server) ensureProvider(ctx *gin.Context) {
	p, err := s.bridge.EnsureProvider(ctx.Request.Context(), nil)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, p.Metadata())
}

func (s *Server) listAccounts(ctx *gin.Context) {
	accounts, err := s.bridge.ListAccounts(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, accounts)
}

type createAccountRequest struct {
	Seed string `json:"seed"`
	Name string `json:"name"`
}

func (s *Server) createAccount(ctx *gin.Context) {
	var req createAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	address, err := s.bridge.CreateAccount(ctx.Request.Context(), req.Seed, req.Name)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"address": address})
}

func (s *Server) createSeed(ctx *gin.Context) {
	seed, err := s.bridge.CreateSeed(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, seed)
}

type importRequest struct {
	// Key names a keystore export in the configured keystore source; JSON and Password are used otherwise.
	Key      string          `json:"key"`
	JSON     json.RawMessage `json:"json"`
	Password string          `json:"password"`
}

func (s *Server) importAccounts(ctx *gin.Context) {
	var req importRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	var (
		res json.RawMessage
		err error
	)
	if req.Key != "" {
		res, err = s.bridge.ImportAccountsFromKeystore(ctx.Request.Context(), req.Key)
	} else {
		res, err = s.bridge.ImportAccountsFromJSON(ctx.Request.Context(), req.JSON, req.Password)
	}
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, res)
}

func (s *Server) deleteAccount(ctx *gin.Context) {
	if err := s.bridge.DeleteAccount(ctx.Request.Context(), ctx.Param("address")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.bridge.Snapshot().Accounts)
}

func (s *Server) selectAccount(ctx *gin.Context) {
	if err := s.bridge.SelectAccount(ctx.Request.Context(), ctx.Param("address")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.bridge.Snapshot().Accounts)
}

func (s *Server) getAllAccounts(ctx *gin.Context) {
	raw, err := s.bridge.GetAllAccounts(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

type buildSignerRequest struct {
	Address string `json:"address"`
}

func (s *Server) buildSigner(ctx *gin.Context) {
	var req buildSignerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	signer, err := s.bridge.BuildSigner(ctx.Request.Context(), req.Address)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"address": signer.Address().Hex(), "network": signer.Provider().Network()})
}

type signRequest struct {
	// Message is signed as utf-8 text unless it is 0x prefixed hex.
	Message string `json:"message"`
}

func (s *Server) signRaw(ctx *gin.Context) {
	var req signRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	message := []byte(req.Message)
	if strings.HasPrefix(req.Message, "0x") {
		decoded, err := hexutil.Decode(req.Message)
		if err != nil {
			badRequest(ctx, err)
			return
		}
		message = decoded
	}
	res, err := s.bridge.SignRawMessage(ctx.Request.Context(), message)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, res)
}

func (s *Server) flip(ctx *gin.Context) {
	tx, err := s.bridge.InvokeContractMutation(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"tx": tx.Hash().Hex(), "nonce": tx.Nonce()})
}

func (s *Server) getValue(ctx *gin.Context) {
	value, err := s.bridge.InvokeContractQuery(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"value": value})
}

func (s *Server) setStore(ctx *gin.Context) {
	raw, err := s.bridge.SetStore(ctx.Request.Context(), ctx.Param("key"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) getStore(ctx *gin.Context) {
	raw, err := s.bridge.GetStore(ctx.Request.Context(), ctx.Param("key"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) removeStore(ctx *gin.Context) {
	raw, err := s.bridge.RemoveStore(ctx.Request.Context(), ctx.Param("key"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) clearStores(ctx *gin.Context) {
	raw, err := s.bridge.ClearStores(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) listMetadata(ctx *gin.Context) {
	raw, err := s.bridge.ListMetadata(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) getAllMetadata(ctx *gin.Context) {
	raw, err := s.bridge.GetAllMetadata(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, raw)
}

func (s *Server) updateMetadata(ctx *gin.Context) {
	md, err := s.bridge.UpdateMetadata(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, md)
}

func (s *Server) listActions(ctx *gin.Context) {
	if s.audit == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"code": codeInvalidInput, "msg": "audit trail disabled"})
		return
	}
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	records, err := database.ListActionRecords(s.audit.WithContext(ctx.Request.Context()), ctx.Query("action"), limit)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, records)
}
