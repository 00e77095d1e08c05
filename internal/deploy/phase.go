package deploy

// PhaseName is one of the six fixed pipeline phases. The wire values match
// the dashboard contract.
type PhaseName string

const (
	PhaseDiscovery    PhaseName = "DISCOVERY"
	PhaseArchitecture PhaseName = "ARCHITECTURE"
	PhaseMvpCore      PhaseName = "MVP_CORE"
	PhaseMvpPolish    PhaseName = "MVP_POLISH"
	PhaseBeta         PhaseName = "BETA"
	PhaseProduction   PhaseName = "PRODUCTION"
)

type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// PhaseSpec reserves a sub-range of the overall 0-100 progress scale for a
// phase and names its quality gates.
type PhaseSpec struct {
	Name  PhaseName
	Min   int
	Max   int
	Gates []string
}

// PhaseOrder is the fixed pipeline. Ranges are contiguous, non-overlapping
// and cover 0-100; progress lands exactly on Max when a phase completes.
var PhaseOrder = []PhaseSpec{
	{Name: PhaseDiscovery, Min: 0, Max: 5, Gates: []string{"Credentials"}},
	{Name: PhaseArchitecture, Min: 5, Max: 15, Gates: []string{"Security"}},
	{Name: PhaseMvpCore, Min: 15, Max: 40, Gates: []string{"Connectivity"}},
	{Name: PhaseMvpPolish, Min: 40, Max: 60, Gates: []string{"Configuration"}},
	{Name: PhaseBeta, Min: 60, Max: 80, Gates: []string{"HealthCheck", "Performance"}},
	{Name: PhaseProduction, Min: 80, Max: 100, Gates: []string{"Tests"}},
}

// PhaseIndex returns the position of a phase in the fixed order, or -1.
func PhaseIndex(name PhaseName) int {
	for i, spec := range PhaseOrder {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

// phaseSpec looks up the spec for a phase. Unknown phases are a programming
// error, so this is only called with values out of PhaseOrder.
func phaseSpec(name PhaseName) PhaseSpec {
	return PhaseOrder[PhaseIndex(name)]
}
