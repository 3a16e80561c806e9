package vault

import "strings"

// Holdings are addressed by deterministic identifiers derived from the vault
// and user identities, so no lookup table is required to locate them.

// VaultAuthority is the identity that signs disbursements out of a vault's
// holdings.
func VaultAuthority(vaultID string) string {
	return "vault/" + strings.TrimSpace(vaultID)
}

// PrincipalHolding identifies the holding that pools depositor principal.
func PrincipalHolding(vaultID string) string {
	return VaultAuthority(vaultID) + "/principal"
}

// RewardHolding identifies the holding that collects interest for
// depositors.
func RewardHolding(vaultID string) string {
	return VaultAuthority(vaultID) + "/rewards"
}

// UserHolding identifies a user's external holding of asset.
func UserHolding(asset, user string) string {
	return "user/" + strings.ToLower(strings.TrimSpace(asset)) + "/" + strings.TrimSpace(user)
}

// HoldingOwner returns the authority allowed to spend from holding, or an
// empty string for identifiers outside the vault naming scheme.
func HoldingOwner(holding string) string {
	holding = strings.TrimSpace(holding)
	switch {
	case strings.HasPrefix(holding, "user/"):
		parts := strings.SplitN(holding, "/", 3)
		if len(parts) == 3 && parts[1] != "" && parts[2] != "" {
			return parts[2]
		}
	case strings.HasPrefix(holding, "vault/"):
		parts := strings.SplitN(holding, "/", 3)
		if len(parts) == 3 && parts[1] != "" && (parts[2] == "principal" || parts[2] == "rewards") {
			return VaultAuthority(parts[1])
		}
	}
	return ""
}
