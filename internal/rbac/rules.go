package rbac

// Default policy. A student only ever touches their own attempts; teachers can
// also read everyone's attempt history.
var RolePermissions = map[string][]string{
	"student": {
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"attempt:delete-own",
	},
	"teacher": {
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"attempt:delete-own",
		"attempt:view-all",
	},
	"admin": {
		"*", // everything
	},
}
