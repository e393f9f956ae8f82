package types

import "errors"

// HandshakeRequest opens every session between engine and application.
// A fresh chain carries its genesis document; a restart carries the
// last block the engine committed instead.
type HandshakeRequest struct {
	LastCommitted *BlockID    `cramberry:"1"`
	Genesis       *GenesisDoc `cramberry:"2"`
}

// IsGenesis reports whether the request starts a fresh chain.
func (r HandshakeRequest) IsGenesis() bool { return r.LastCommitted == nil }

// Validate checks that exactly one of LastCommitted and Genesis is set.
func (r HandshakeRequest) Validate() error {
	switch {
	case r.IsGenesis() && r.Genesis == nil:
		return errors.New("handshake: genesis requested without a genesis document")
	case !r.IsGenesis() && r.Genesis != nil:
		return errors.New("handshake: restart must not carry a genesis document")
	}
	return nil
}

// HandshakeResponse is the application's view of its own state.
type HandshakeResponse struct {
	// LastBlock is nil when the application has no committed state.
	LastBlock *BlockID `cramberry:"1"`
	// AppHash at LastBlock, or the genesis hash on a fresh chain.
	AppHash      *AppHash     `cramberry:"2"`
	Capabilities Capabilities `cramberry:"3"`
}
