package model

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleEditor    Role = "editor"
	RoleViewer    Role = "viewer"
	RoleSpectator Role = "spectator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer, RoleSpectator:
		return true
	}
	return false
}

// Permissions is always derived from the role, never stored with per-user
// overrides.
type Permissions struct {
	CanEdit        bool `json:"can_edit"`
	CanDelete      bool `json:"can_delete"`
	CanInvite      bool `json:"can_invite"`
	CanManageRoles bool `json:"can_manage_roles"`
	CanExport      bool `json:"can_export"`
}

func (r Role) Permissions() Permissions {
	switch r {
	case RoleOwner:
		return Permissions{CanEdit: true, CanDelete: true, CanInvite: true, CanManageRoles: true, CanExport: true}
	case RoleAdmin:
		return Permissions{CanEdit: true, CanDelete: true, CanInvite: true, CanManageRoles: true, CanExport: true}
	case RoleEditor:
		return Permissions{CanEdit: true, CanExport: true}
	case RoleViewer:
		return Permissions{CanExport: true}
	default: // spectator or unknown
		return Permissions{}
	}
}

// Palette of display colors handed out by join order. Stable within a
// session: the Nth joiner always gets Palette[N % len(Palette)].
var Palette = []string{
	"#e63946", "#2a9d8f", "#e9c46a", "#4361ee",
	"#f4a261", "#9b5de5", "#00b4d8", "#6a994e",
}

func ColorFor(joinIndex int) string {
	if joinIndex < 0 {
		joinIndex = 0
	}
	return Palette[joinIndex%len(Palette)]
}
