package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"homestead/core/types"
	"homestead/escrow"
	"homestead/storage"
)

// Manager reads and writes the escrow ledger: listings, per-round
// approvals, escrowed balances, participant accounts and a generic KV
// surface for collaborating modules. Records are RLP-encoded under
// keccak256-hashed, prefix-namespaced keys.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	listingPrefix  = []byte("sale/listing/")
	approvalPrefix = []byte("sale/approval/")
	balancePrefix  = []byte("sale/balance/")
	accountPrefix  = []byte("account/")

	vaultSeed = []byte("homestead/sale-vault")
)

func listingKey(tokenID uint64) []byte {
	buf := make([]byte, len(listingPrefix)+8)
	copy(buf, listingPrefix)
	binary.BigEndian.PutUint64(buf[len(listingPrefix):], tokenID)
	return ethcrypto.Keccak256(buf)
}

func approvalKey(tokenID, round uint64, addr [20]byte) []byte {
	buf := make([]byte, len(approvalPrefix)+16+len(addr))
	copy(buf, approvalPrefix)
	binary.BigEndian.PutUint64(buf[len(approvalPrefix):], tokenID)
	binary.BigEndian.PutUint64(buf[len(approvalPrefix)+8:], round)
	copy(buf[len(approvalPrefix)+16:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func balanceKey(tokenID uint64) []byte {
	buf := make([]byte, len(balancePrefix)+8)
	copy(buf, balancePrefix)
	binary.BigEndian.PutUint64(buf[len(balancePrefix):], tokenID)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// VaultAddress returns the module account that holds every escrowed
// balance. The address is derived from a fixed seed so it can never
// collide with a key-derived participant identity.
func (m *Manager) VaultAddress() [20]byte {
	hash := ethcrypto.Keccak256(vaultSeed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err
}

// storedListing mirrors escrow.Listing with RLP-serializable field types.
type storedListing struct {
	TokenID          uint64
	Round            uint64
	Buyer            [20]byte
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	InspectionPassed bool
	Status           uint8
	CreatedAt        *big.Int
}

func newStoredListing(l *escrow.Listing) *storedListing {
	price := big.NewInt(0)
	if l.PurchasePrice != nil {
		price = new(big.Int).Set(l.PurchasePrice)
	}
	earnest := big.NewInt(0)
	if l.EscrowAmount != nil {
		earnest = new(big.Int).Set(l.EscrowAmount)
	}
	return &storedListing{
		TokenID:          l.TokenID,
		Round:            l.Round,
		Buyer:            l.Buyer,
		PurchasePrice:    price,
		EscrowAmount:     earnest,
		InspectionPassed: l.InspectionPassed,
		Status:           uint8(l.Status),
		CreatedAt:        big.NewInt(l.CreatedAt),
	}
}

func (s *storedListing) toListing() (*escrow.Listing, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil listing record")
	}
	out := &escrow.Listing{
		TokenID:          s.TokenID,
		Round:            s.Round,
		Buyer:            s.Buyer,
		PurchasePrice:    big.NewInt(0),
		EscrowAmount:     big.NewInt(0),
		InspectionPassed: s.InspectionPassed,
		Status:           escrow.SaleStatus(s.Status),
	}
	if s.PurchasePrice != nil {
		out.PurchasePrice = new(big.Int).Set(s.PurchasePrice)
	}
	if s.EscrowAmount != nil {
		out.EscrowAmount = new(big.Int).Set(s.EscrowAmount)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid listing status %d", s.Status)
	}
	return out, nil
}

// ListingPut validates and persists the listing record.
func (m *Manager) ListingPut(l *escrow.Listing) error {
	sanitized, err := escrow.SanitizeListing(l)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredListing(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(listingKey(sanitized.TokenID), encoded)
}

// ListingGet loads the listing record for the token, if any.
func (m *Manager) ListingGet(tokenID uint64) (*escrow.Listing, bool) {
	data, err := m.get(listingKey(tokenID))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedListing)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	listing, err := stored.toListing()
	if err != nil {
		return nil, false
	}
	return listing, true
}

// ApprovalSet records consent by the address for the given sale round.
func (m *Manager) ApprovalSet(tokenID, round uint64, addr [20]byte) error {
	if round == 0 {
		return fmt.Errorf("state: approval round must be positive")
	}
	return m.db.Put(approvalKey(tokenID, round, addr), []byte{1})
}

// ApprovalGet reports whether the address consented to the given round.
func (m *Manager) ApprovalGet(tokenID, round uint64, addr [20]byte) (bool, error) {
	data, err := m.get(approvalKey(tokenID, round, addr))
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

// EscrowCredit adds to the balance held against the listing. The listing
// must exist.
func (m *Manager) EscrowCredit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative credit")
	}
	if _, ok := m.ListingGet(tokenID); !ok {
		return fmt.Errorf("state: listing %d not found", tokenID)
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.loadBigInt(balanceKey(tokenID))
	if err != nil {
		return err
	}
	return m.writeBigInt(balanceKey(tokenID), new(big.Int).Add(current, amt))
}

// EscrowDebit removes from the balance held against the listing. Draining
// below zero is rejected.
func (m *Manager) EscrowDebit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative debit")
	}
	current, err := m.loadBigInt(balanceKey(tokenID))
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: debit exceeds escrowed balance")
	}
	return m.writeBigInt(balanceKey(tokenID), new(big.Int).Sub(current, amt))
}

// EscrowBalance returns the balance held against the listing.
func (m *Manager) EscrowBalance(tokenID uint64) (*big.Int, error) {
	return m.loadBigInt(balanceKey(tokenID))
}

// GetAccount reconstructs the account stored under the provided address.
// Missing accounts resolve to a zero balance.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	data, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if len(data) == 0 {
		return account, nil
	}
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, err
	}
	return account.EnsureDefaults(), nil
}

// PutAccount persists the account under the provided address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	account = account.EnsureDefaults()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) writeBigInt(key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVPut stores the provided value under the supplied key using RLP
// encoding. The key is hashed with keccak256 before use.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it
// into the provided destination. The boolean return indicates whether the
// key existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
