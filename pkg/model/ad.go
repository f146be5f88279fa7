package model

// Ad is the attribute-value description of a job or a machine. Values are
// the JSON-decodable scalars, lists and nested maps.
type Ad map[string]interface{}

// Job is a candidate request in a negotiation pass.
type Job struct {
	ID    string `json:"id" binding:"required"`
	Attrs Ad     `json:"attrs"`
}

// Machine is a candidate execution resource in a negotiation pass.
type Machine struct {
	Name  string `json:"name" binding:"required"`
	Attrs Ad     `json:"attrs"`
}
