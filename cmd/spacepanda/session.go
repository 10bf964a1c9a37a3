package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spacepanda/core/channelmgr"
	"github.com/spacepanda/core/errs"
	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/pkg/config"
	"github.com/spacepanda/core/pkg/utils"
	"github.com/spacepanda/core/transport"
)

// session bundles the local node's unlocked identity and every
// collaborator ChannelManager needs, built lazily the first time a
// command needs it.
type session struct {
	cfg        *config.Config
	keystore   *identity.FileKeystore
	ident      *identity.IdentityKey
	initKey    *identity.InitKey
	keyPackage *identity.KeyPackage
	store      *channelmgr.FileStore
	node       *transport.Node
	mgr        *channelmgr.ChannelManager
}

var (
	sessionMu  sync.Mutex
	theSession *session
)

// selfIDPath names the small marker file recording which keystore entry
// is this node's own identity, since FileKeystore itself is multi-user
// and has no notion of "the local user" on its own.
func selfIDPath(dataDir string) string {
	return filepath.Join(dataDir, "self.id")
}

func passphraseFromEnv() []byte {
	return []byte(utils.EnvOrDefault("SPACEPANDA_PASSPHRASE", ""))
}

// ensureSession opens (or, on first run, creates) the local identity and
// wires up the full ChannelManager stack. Safe to call from every
// subcommand's RunE; the first caller pays the setup cost.
func ensureSession() (*session, error) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if theSession != nil {
		return theSession, nil
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if lv, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lv)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, utils.Wrap(err, "create data dir")
	}

	passphrase := passphraseFromEnv()
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("SPACEPANDA_PASSPHRASE is not set")
	}

	argon2Params := identity.Argon2Params{
		TimeCost:    uint32(cfg.Keystore.Argon2.TimeCost),
		MemoryKiB:   uint32(cfg.Keystore.Argon2.MemoryKiB),
		Parallelism: cfg.Keystore.Argon2.Parallelism,
	}
	if argon2Params.TimeCost == 0 {
		argon2Params = identity.DefaultArgon2Params()
	}

	keystorePath := cfg.Keystore.Path
	if keystorePath == "" {
		keystorePath = filepath.Join(cfg.Storage.DataDir, "keystore.spk")
	}
	ks, err := identity.OpenFileKeystore(keystorePath, passphrase, argon2Params)
	if err != nil {
		return nil, err
	}

	ik, err := loadOrCreateIdentity(ks, cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	initKey, err := loadOrCreateInitKey(ks, ik)
	if err != nil {
		return nil, err
	}
	keyPackage := identity.BuildKeyPackage(ik, initKey.Pub, []byte(ik.UserID.String()))

	store, err := channelmgr.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	node, err := transport.New(transport.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	})
	if err != nil {
		return nil, utils.Wrap(err, "start network node")
	}

	inviteTTL := time.Duration(cfg.Channel.InviteTTLSeconds) * time.Second
	if inviteTTL <= 0 {
		inviteTTL = 24 * time.Hour
	}
	mgr := channelmgr.NewChannelManager(ik.UserID, ik.Public, ik, node, store, channelmgr.NewNoopMetrics(), cfg.Channel.MailboxCapacity, inviteTTL)

	theSession = &session{
		cfg: cfg, keystore: ks, ident: ik,
		initKey: initKey, keyPackage: keyPackage,
		store: store, node: node, mgr: mgr,
	}
	return theSession, nil
}

// initKeyDeviceID derives a stable keystore slot for this node's own HPKE
// init key from its UserID, so the slot can be located on a cold start
// before the init key itself has been loaded (a chicken-and-egg FileKeystore
// otherwise has no room for: it only indexes by UserId/DeviceId, and a
// DeviceId is normally itself derived from the key it names).
func initKeyDeviceID(userID identity.UserId) identity.DeviceId {
	return identity.DeriveDeviceID(ed25519.PublicKey(append([]byte("spacepanda-init-key:"), userID[:]...)))
}

// loadOrCreateInitKey resolves the X25519 key this node advertises in its
// KeyPackage and uses to decrypt Welcomes, persisting it in the same
// encrypted keystore as the long-term identity so it survives restarts.
func loadOrCreateInitKey(ks *identity.FileKeystore, ik *identity.IdentityKey) (*identity.InitKey, error) {
	deviceID := initKeyDeviceID(ik.UserID)
	seed, err := ks.LoadDevice(ik.UserID, deviceID)
	if err == nil {
		return identity.InitKeyFromPrivate(seed)
	}
	if !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}

	initKey, err := identity.NewInitKey()
	if err != nil {
		return nil, err
	}
	if err := ks.StoreDevice(ik.UserID, deviceID, initKey.Private()); err != nil {
		return nil, err
	}
	return initKey, nil
}

// loadOrCreateIdentity resolves this node's own identity: read the
// self-id marker and load its seed from the keystore, or mint a fresh
// identity and persist both on first use.
func loadOrCreateIdentity(ks *identity.FileKeystore, dataDir string) (*identity.IdentityKey, error) {
	marker := selfIDPath(dataDir)
	data, err := os.ReadFile(marker)
	if err == nil {
		userID, err := identity.UserIdFromString(string(data))
		if err != nil {
			return nil, utils.Wrap(err, "parse self.id")
		}
		seed, err := ks.LoadIdentity(userID)
		if err != nil {
			return nil, err
		}
		return identity.IdentityKeyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, utils.Wrap(err, "read self.id")
	}

	ik, err := identity.NewIdentityKey()
	if err != nil {
		return nil, err
	}
	if err := ks.StoreIdentity(ik.UserID, ik.Seed()); err != nil {
		return nil, err
	}
	if err := os.WriteFile(marker, []byte(ik.UserID.String()), 0o600); err != nil {
		return nil, utils.Wrap(err, "write self.id")
	}
	log.Infof("spacepanda: minted new local identity %s", ik.UserID)
	return ik, nil
}

// closeSession tears down the network node between CLI invocations in
// the same process (tests spawn several root commands against distinct
// data directories and must not leak goroutines across them).
func closeSession() {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if theSession != nil {
		_ = theSession.node.Close()
		theSession = nil
	}
}

// withSession is the PersistentPreRunE every subcommand shares.
func withSession(cmd *cobra.Command, _ []string) error {
	_, err := ensureSession()
	return err
}
