package custody

import "EscrowLedger/internal/identity"

// AuthorityKind distinguishes a caller-held signature from a vault's
// delegated signing capability.
type AuthorityKind uint8

const (
	AuthorityNone AuthorityKind = iota
	AuthoritySigner
	AuthorityVault
)

func (k AuthorityKind) String() string {
	switch k {
	case AuthoritySigner:
		return "signer"
	case AuthorityVault:
		return "vault"
	default:
		return "none"
	}
}

// AuthorityToken is a capability to move funds out of one account.
// The zero value authorizes nothing. Vault tokens can only be obtained
// from a VaultAuthorizer and carry no secret material.
type AuthorityToken struct {
	kind    AuthorityKind
	account identity.Identity
}

// SignerAuthority represents a signature by an authenticated caller over
// their own account.
func SignerAuthority(signer identity.Identity) AuthorityToken {
	return AuthorityToken{kind: AuthoritySigner, account: signer}
}

func vaultAuthority(vault identity.Identity) AuthorityToken {
	return AuthorityToken{kind: AuthorityVault, account: vault}
}

func (t AuthorityToken) Kind() AuthorityKind { return t.kind }

func (t AuthorityToken) Account() identity.Identity { return t.account }

// Covers reports whether the token authorizes debiting account.
func (t AuthorityToken) Covers(account identity.Identity) bool {
	return t.kind != AuthorityNone && t.account == account
}
