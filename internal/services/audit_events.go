package services

// Audit event taxonomy.
const (
	AuditLoginSuccess          = "login.success"
	AuditLoginFailed           = "login.failed"
	AuditLogout                = "logout"
	AuditSessionRevoked        = "session.revoked"
	AuditSessionRevokeOthers   = "session.revoke_others"
	AuditUserDisabled          = "user.disabled"
	AuditUserEnabled           = "user.enabled"
	AuditInviteCreated         = "invite.created"
	AuditInviteRedeemed        = "invite.redeemed"
	AuditInviteRevoked         = "invite.revoked"
	AuditRoleCreated           = "role.created"
	AuditRoleUpdated           = "role.updated"
	AuditRoleDeleted           = "role.deleted"
	AuditSettingsUpdated       = "settings.updated"
	AuditPasswordChanged       = "password.changed"
	AuditTwoFactorEnabled      = "2fa.enabled"
	AuditTwoFactorDisabled     = "2fa.disabled"
	AuditApprovalRequested     = "approval.requested"
	AuditApprovalApproved      = "approval.approved"
	AuditApprovalRejected      = "approval.rejected"
	AuditCommandExecuted       = "command.executed"
	AuditCommandFailed         = "command.failed"
	AuditCommandToggled        = "command.toggled"
	AuditSensitiveModeEnabled  = "sensitive_mode.enabled"
	AuditSensitiveModeDisabled = "sensitive_mode.disabled"
	AuditCommunitySwitched     = "community.switched"
	AuditTenantViolation       = "tenant.violation"
	AuditAPIKeyCreated         = "api_key.created"
	AuditAPIKeyRevoked         = "api_key.revoked"
	AuditDiscordBotCommand     = "discord.bot.command"
)
