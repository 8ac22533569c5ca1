package memory

// Demo identities for local runs. IDs match the profiles seed in internal/migrate.
const (
	DemoAdminID   = "00000000-0000-4000-8000-000000000001"
	DemoManagerID = "00000000-0000-4000-8000-000000000002"
)

func DemoSeeds() []Seed {
	return []Seed{
		{ID: DemoAdminID, Email: "admin@example.com", DisplayName: "Admin User", Role: "Administrator", Password: "password"},
		{ID: DemoManagerID, Email: "manager@example.com", DisplayName: "Manager User", Role: "Manager", Password: "password"},
	}
}
