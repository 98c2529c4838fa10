package workflow

// BuildRoleStateMachine creates a state machine for one approval role.
// Approved and Rejected have no outgoing transitions.
func BuildRoleStateMachine(initialState State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)

	return builder.Build(initialState)
}
