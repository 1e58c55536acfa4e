package grpcserver

// ServiceName is the fully qualified control service name.
const ServiceName = "agentkeeper.v1.Control"

// Control method names.
const (
	NameStatus               = "Status"
	NameGetAccounts          = "GetAccounts"
	NameGetCurrentAccount    = "GetCurrentAccount"
	NameBackupCurrentAccount = "BackupCurrentAccount"
	NameRestoreAccount       = "RestoreAccount"
	NameSwitchAccount        = "SwitchAccount"
	NameClearAllData         = "ClearAllData"
	NameSignInNew            = "SignInNew"
	NameDeleteBackup         = "DeleteBackup"
	NameClearAllBackups      = "ClearAllBackups"
	NameExportAccounts       = "ExportAccounts"
	NameImportAccounts       = "ImportAccounts"
	NameEncrypt              = "Encrypt"
	NameDecrypt              = "Decrypt"
	NameRefreshToken         = "RefreshToken"
	NameAccountQuota         = "AccountQuota"
	NameTriggerQuotaRefresh  = "TriggerQuotaRefresh"
)

// Full method paths as seen by interceptors.
const (
	MethodStatus        = "/" + ServiceName + "/" + NameStatus
	MethodSwitchAccount = "/" + ServiceName + "/" + NameSwitchAccount
)

// FullMethod returns the invoke path of a control method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }
