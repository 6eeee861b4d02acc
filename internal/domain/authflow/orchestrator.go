package authflow

import (
	"medgate/internal/domain/session/model"
)

// NextAction is the single outstanding step the orchestrator derives from
// IAM's policy flags. It is computed once per IAM round trip and never from
// client-supplied input.
type NextAction string

const (
	ActionFinalize       NextAction = "finalize"
	ActionEnrollTOTP     NextAction = "enroll_totp"
	ActionVerifyTOTP     NextAction = "verify_totp"
	ActionVerifyWebauthn NextAction = "verify_webauthn"
)

// Decide maps the flags to the next required action. Precedence is fixed:
// skip-all short-circuits, enrollment precedes verification, TOTP precedes
// WebAuthn. Only one sub-flow is ever active.
func Decide(flags model.MFAFlags) NextAction {
	switch {
	case flags.SkipAll:
		return ActionFinalize
	case flags.RequireTOTPSetup:
		return ActionEnrollTOTP
	case flags.RequireTOTP:
		return ActionVerifyTOTP
	case flags.RequireWebauthn:
		return ActionVerifyWebauthn
	default:
		return ActionFinalize
	}
}

// stageFor returns the machine stage a freshly decided action parks in.
func stageFor(action NextAction) model.Stage {
	switch action {
	case ActionEnrollTOTP:
		return model.StageTotpSetupPending
	case ActionVerifyTOTP:
		return model.StageTotpVerifyPending
	case ActionVerifyWebauthn:
		return model.StageWebauthnPending
	default:
		return model.StageAuthenticated
	}
}

// actionFor resumes a stored pending stage back into its outstanding action.
func actionFor(stage model.Stage) NextAction {
	switch stage {
	case model.StageTotpSetupPending:
		return ActionEnrollTOTP
	case model.StageTotpVerifyPending:
		return ActionVerifyTOTP
	case model.StageWebauthnPending:
		return ActionVerifyWebauthn
	default:
		return ActionFinalize
	}
}
