package capability

// Permission names accepted by HasPermission.
const (
	PermissionFilesystemAccess = "filesystem_access"
	PermissionNetworkAccess    = "network_access"
	PermissionProcessSpawn     = "process_spawn"
	PermissionEnvAccess        = "env_access"
	PermissionSystemAccess     = "system_access"
)

// Permissions is the scope a tool is allowed to run with.
type Permissions struct {
	FilesystemAccess bool   `json:"filesystem_access" yaml:"filesystem_access"`
	NetworkAccess    bool   `json:"network_access" yaml:"network_access"`
	ProcessSpawn     bool   `json:"process_spawn" yaml:"process_spawn"`
	EnvAccess        bool   `json:"env_access" yaml:"env_access"`
	SystemAccess     bool   `json:"system_access" yaml:"system_access"`
	MemoryLimitMB    uint64 `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	CPULimitPercent  uint8  `json:"cpu_limit_percent" yaml:"cpu_limit_percent"`
	TimeoutSeconds   uint64 `json:"timeout_seconds" yaml:"timeout_seconds"`
}

var permissionScopes = map[string]func(Permissions) bool{
	PermissionFilesystemAccess: func(p Permissions) bool { return p.FilesystemAccess },
	PermissionNetworkAccess:    func(p Permissions) bool { return p.NetworkAccess },
	PermissionProcessSpawn:     func(p Permissions) bool { return p.ProcessSpawn },
	PermissionEnvAccess:        func(p Permissions) bool { return p.EnvAccess },
	PermissionSystemAccess:     func(p Permissions) bool { return p.SystemAccess },
}

// Allows reports whether the named scope is granted.
// Unrecognized names are never granted.
func (p Permissions) Allows(name string) bool {
	scope, ok := permissionScopes[name]
	if !ok {
		return false
	}
	return scope(p)
}

// KnownPermission reports whether name is a recognized permission scope.
func KnownPermission(name string) bool {
	_, ok := permissionScopes[name]
	return ok
}
