// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crem

// Wire protocol of the engine image. The container reads one JSON request on
// stdin and writes one JSON response on stdout. Results are positional: the
// i-th result describes the i-th input SMILES and echoes it back.

const (
	opCanonicalize = "canonicalize"
	opGrow         = "grow"
	opMutate       = "mutate"
	opAlerts       = "alerts"
)

type request struct {
	Op       string   `json:"op"`
	SMILES   []string `json:"smiles"`
	DB       string   `json:"db,omitempty"`
	Radius   int      `json:"radius"`
	MinAtoms int      `json:"min_atoms"`
	MaxAtoms int      `json:"max_atoms"`
	MinInc   int      `json:"min_inc"`
	MaxInc   int      `json:"max_inc"`
	Catalogs []string `json:"catalogs,omitempty"`
}

type response struct {
	Results []result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

type result struct {
	SMILES    string              `json:"smiles"`
	Canonical string              `json:"canonical,omitempty"`
	Products  []string            `json:"products,omitempty"`
	Alerts    map[string][]string `json:"alerts,omitempty"`
	Error     string              `json:"error,omitempty"`
}
