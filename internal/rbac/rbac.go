package rbac

// Role is a Hasura role as carried in x-hasura-default-role.
type Role string
type Action string

const (
	RoleAnonymous Role = "anonymous"
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionBookmark Action = "bookmark"
	ActionSubmit   Action = "submit"
	ActionReindex  Action = "reindex"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTeacher, RoleStudent:
		return action == ActionRead || action == ActionBookmark || action == ActionSubmit
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAnonymous, RoleStudent, RoleTeacher, RoleAdmin:
		return Role(role)
	default:
		return RoleAnonymous
	}
}
