package score

import "github.com/cdnprobe/cdnprobe/pkg/types"

// Cell is the display state of one endpoint on one provider.
type Cell string

// Cell values.
const (
	CellSuccess       Cell = "success"
	CellSecurity      Cell = "security"
	CellFailure       Cell = "failure"
	CellPending       Cell = "pending"
	CellNotApplicable Cell = "not-applicable"
)

// Row is one endpoint across every provider.
type Row struct {
	EndpointID   string          `json:"endpointId"`
	EndpointName string          `json:"endpointName"`
	Category     types.Category  `json:"category"`
	Cells        map[string]Cell `json:"cells"`
}

// Matrix is the endpoint x provider status grid, rows in endpoint order.
type Matrix struct {
	Providers []string `json:"providers"`
	Rows      []Row    `json:"rows"`
}

// Cell returns the state at (endpointID, providerID), or CellPending when
// the pair is not part of the matrix.
func (m Matrix) Cell(endpointID, providerID string) Cell {
	for _, r := range m.Rows {
		if r.EndpointID != endpointID {
			continue
		}
		if c, ok := r.Cells[providerID]; ok {
			return c
		}
	}
	return CellPending
}

// BuildMatrix classifies the latest outcome of every (endpoint, provider)
// pair. A missing API result is not-applicable; any other missing result is
// pending.
func BuildMatrix(outcomes []types.Outcome, providers []types.Provider, endpoints []types.Endpoint) Matrix {
	idx := latest(outcomes)

	m := Matrix{
		Providers: make([]string, 0, len(providers)),
		Rows:      make([]Row, 0, len(endpoints)),
	}
	for _, p := range providers {
		m.Providers = append(m.Providers, p.ID)
	}

	for _, ep := range endpoints {
		row := Row{
			EndpointID:   ep.ID,
			EndpointName: ep.Name,
			Category:     ep.Category,
			Cells:        make(map[string]Cell, len(providers)),
		}
		for _, p := range providers {
			e, ok := idx[p.ID][ep.ID]
			switch {
			case !ok && ep.IsAPI():
				row.Cells[p.ID] = CellNotApplicable
			case !ok:
				row.Cells[p.ID] = CellPending
			case e.blocked:
				row.Cells[p.ID] = CellSecurity
			case e.success:
				row.Cells[p.ID] = CellSuccess
			default:
				row.Cells[p.ID] = CellFailure
			}
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}
