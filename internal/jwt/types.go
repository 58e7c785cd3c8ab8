package jwt

type Role int

// User is the authenticated tenant operator. TenantId carried in claims is
// the only source of tenant identity for privileged API operations.
type User struct {
	Id       string `json:"id"`
	Email    string `json:"email"`
	TenantId string `json:"tenantId"`
}
