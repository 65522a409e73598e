package booking

type State string

const (
	StateDraft          State = "draft"
	StateAccountReady   State = "account_ready"
	StateOrderCreated   State = "order_created"
	StateLineCreated    State = "line_created"
	StateCreativeLinked State = "creative_linked"
	StateDealRequested  State = "deal_requested"
	StateDealIssued     State = "deal_issued"
	StateFailed         State = "failed"
)

var stateOrder = map[State]int{
	StateDraft:          0,
	StateAccountReady:   1,
	StateOrderCreated:   2,
	StateLineCreated:    3,
	StateCreativeLinked: 4,
	StateDealRequested:  5,
	StateDealIssued:     6,
}

func (s State) Valid() bool {
	if s == StateFailed {
		return true
	}
	_, ok := stateOrder[s]
	return ok
}

func (s State) Terminal() bool { return s == StateDealIssued }

// AtLeast reports whether s is at or past other in the forward chain.
// Failed is never past anything.
func (s State) AtLeast(other State) bool {
	a, ok1 := stateOrder[s]
	b, ok2 := stateOrder[other]
	return ok1 && ok2 && a >= b
}

type Step string

const (
	StepAccount     Step = "account"
	StepOrder       Step = "order"
	StepLine        Step = "line"
	StepCreative    Step = "creative"
	StepAssignment  Step = "assignment"
	StepDealRequest Step = "deal_request"
	StepDeal        Step = "deal"
)

// Steps lists the chain in execution order.
var Steps = []Step{StepAccount, StepOrder, StepLine, StepCreative, StepAssignment, StepDealRequest, StepDeal}

type rule struct {
	from     State
	until    State
	needs    []Step
	advances State
}

// Creatives only hang off the account, so they may be created anywhere
// between AccountReady and LineCreated. Every other step needs the exact
// preceding state.
var rules = map[Step]rule{
	StepAccount:     {from: StateDraft, until: StateDraft, advances: StateAccountReady},
	StepOrder:       {from: StateAccountReady, until: StateAccountReady, needs: []Step{StepAccount}, advances: StateOrderCreated},
	StepLine:        {from: StateOrderCreated, until: StateOrderCreated, needs: []Step{StepOrder}, advances: StateLineCreated},
	StepCreative:    {from: StateAccountReady, until: StateLineCreated, needs: []Step{StepAccount}},
	StepAssignment:  {from: StateLineCreated, until: StateLineCreated, needs: []Step{StepLine, StepCreative}, advances: StateCreativeLinked},
	StepDealRequest: {from: StateCreativeLinked, until: StateCreativeLinked, needs: []Step{StepAssignment}, advances: StateDealRequested},
	StepDeal:        {from: StateDealRequested, until: StateDealRequested, needs: []Step{StepDealRequest}, advances: StateDealIssued},
}

func (s Step) Valid() bool {
	_, ok := rules[s]
	return ok
}
