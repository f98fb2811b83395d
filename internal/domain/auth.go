package domain

// AuthRecord links a Discord user to their Linkblocks account.
type AuthRecord struct {
	// DiscordID is the Discord user snowflake. At most one record exists per id.
	DiscordID string `json:"discord_id"`

	// APIKey is the credential issued by Linkblocks. Replaced on re-authentication.
	APIKey string `json:"api_key"`

	// UserID is the Linkblocks user id. Kept from the first authentication.
	UserID string `json:"user_id"`
}
