package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/converse/internal/chat"
)

// ===========================================================================
// CHEMISTRY TOOL (PubChem PUG REST)
// ===========================================================================

const (
	// DefaultChemistryEndpoint is the PubChem PUG REST base URL.
	DefaultChemistryEndpoint = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"

	// DefaultChemistryCacheTTL bounds how long a resolved molecule is reused.
	DefaultChemistryCacheTTL = 30 * time.Minute
)

// ChemistryTool resolves a compound name to structured molecule data.
type ChemistryTool struct {
	endpoint   string
	httpClient *http.Client
	cache      *ttlCache[*chat.MoleculeData]
}

// ChemistryOption configures the ChemistryTool.
type ChemistryOption func(*ChemistryTool)

// WithChemistryEndpoint overrides the PUG REST base URL.
func WithChemistryEndpoint(endpoint string) ChemistryOption {
	return func(c *ChemistryTool) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithChemistryHTTPClient sets a custom HTTP client.
func WithChemistryHTTPClient(client *http.Client) ChemistryOption {
	return func(c *ChemistryTool) {
		c.httpClient = client
	}
}

// WithChemistryCacheTTL sets the molecule cache TTL.
func WithChemistryCacheTTL(ttl time.Duration) ChemistryOption {
	return func(c *ChemistryTool) {
		c.cache.ttl = ttl
	}
}

// NewChemistryTool creates a chemistry lookup tool.
func NewChemistryTool(opts ...ChemistryOption) *ChemistryTool {
	c := &ChemistryTool{
		endpoint:   DefaultChemistryEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      newTTLCache[*chat.MoleculeData](100, DefaultChemistryCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve looks up a compound by name and returns its structure.
func (c *ChemistryTool) Resolve(ctx context.Context, name string) (*chat.MoleculeData, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("compound name cannot be empty")
	}

	cacheKey := strings.ToLower(name)
	if cached, ok := c.cache.get(cacheKey); ok {
		log.Debug().Str("compound", name).Msg("molecule cache hit")
		return cached, nil
	}

	start := time.Now()
	record, err := c.fetchRecord(ctx, name)
	if err != nil {
		return nil, err
	}

	mol, err := record.toMolecule(name)
	if err != nil {
		return nil, err
	}

	// Properties are best-effort garnish; the structure alone is enough
	// to render.
	if props, err := c.fetchProperties(ctx, name); err == nil {
		mol.Formula = props.MolecularFormula
		mol.IUPACName = props.IUPACName
		if w, err := strconv.ParseFloat(props.MolecularWeight, 64); err == nil {
			mol.Weight = w
		}
	}

	c.cache.set(cacheKey, mol)
	log.Info().
		Str("compound", name).
		Int("atoms", len(mol.Atoms)).
		Dur("elapsed", time.Since(start)).
		Msg("molecule resolved")
	return mol, nil
}

func (c *ChemistryTool) fetchRecord(ctx context.Context, name string) (*pugCompound, error) {
	// Prefer the 3-D conformer; many small compounds only carry 2-D.
	record, err := c.getRecord(ctx, name, true)
	if err != nil {
		record, err = c.getRecord(ctx, name, false)
	}
	return record, err
}

func (c *ChemistryTool) getRecord(ctx context.Context, name string, threeD bool) (*pugCompound, error) {
	u := fmt.Sprintf("%s/compound/name/%s/record/JSON", c.endpoint, url.PathEscape(name))
	if threeD {
		u += "?record_type=3d"
	}

	var resp pugRecordResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.PCCompounds) == 0 {
		return nil, fmt.Errorf("no compound record for %q", name)
	}
	return &resp.PCCompounds[0], nil
}

func (c *ChemistryTool) fetchProperties(ctx context.Context, name string) (*pugProperties, error) {
	u := fmt.Sprintf("%s/compound/name/%s/property/MolecularFormula,MolecularWeight,IUPACName/JSON",
		c.endpoint, url.PathEscape(name))

	var resp pugPropertyResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.PropertyTable.Properties) == 0 {
		return nil, fmt.Errorf("no properties for %q", name)
	}
	return &resp.PropertyTable.Properties[0], nil
}

func (c *ChemistryTool) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pubchem request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readLimitedBody(resp.Body, 4096)
		return fmt.Errorf("pubchem status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pubchem response: %w", err)
	}
	return nil
}

// PubChem PUG REST wire types
type pugRecordResponse struct {
	PCCompounds []pugCompound `json:"PC_Compounds"`
}

type pugCompound struct {
	Atoms struct {
		AID     []int `json:"aid"`
		Element []int `json:"element"`
	} `json:"atoms"`
	Bonds struct {
		AID1  []int `json:"aid1"`
		AID2  []int `json:"aid2"`
		Order []int `json:"order"`
	} `json:"bonds"`
	Coords []struct {
		Conformers []struct {
			X []float64 `json:"x"`
			Y []float64 `json:"y"`
			Z []float64 `json:"z"`
		} `json:"conformers"`
	} `json:"coords"`
}

type pugPropertyResponse struct {
	PropertyTable struct {
		Properties []pugProperties `json:"Properties"`
	} `json:"PropertyTable"`
}

type pugProperties struct {
	MolecularFormula string `json:"MolecularFormula"`
	MolecularWeight  string `json:"MolecularWeight"`
	IUPACName        string `json:"IUPACName"`
}

func (p *pugCompound) toMolecule(name string) (*chat.MoleculeData, error) {
	if len(p.Atoms.AID) == 0 || len(p.Coords) == 0 || len(p.Coords[0].Conformers) == 0 {
		return nil, fmt.Errorf("compound %q has no structural data", name)
	}
	if len(p.Atoms.Element) != len(p.Atoms.AID) {
		return nil, fmt.Errorf("compound %q has inconsistent atom data", name)
	}
	conf := p.Coords[0].Conformers[0]
	if len(conf.X) != len(p.Atoms.AID) || len(conf.Y) != len(p.Atoms.AID) {
		return nil, fmt.Errorf("compound %q has inconsistent coordinates", name)
	}

	// Atom IDs are 1-based in PUG records; bond endpoints reference them.
	indexByAID := make(map[int]int, len(p.Atoms.AID))
	mol := &chat.MoleculeData{Name: name}
	for i, aid := range p.Atoms.AID {
		indexByAID[aid] = i
		atom := chat.Atom{
			Element: elementSymbol(p.Atoms.Element[i]),
			X:       conf.X[i],
			Y:       conf.Y[i],
		}
		if len(conf.Z) == len(p.Atoms.AID) {
			atom.Z = conf.Z[i]
		}
		mol.Atoms = append(mol.Atoms, atom)
	}

	for i := range p.Bonds.AID1 {
		from, ok1 := indexByAID[p.Bonds.AID1[i]]
		to, ok2 := indexByAID[p.Bonds.AID2[i]]
		if !ok1 || !ok2 {
			continue
		}
		order := 1
		if i < len(p.Bonds.Order) {
			order = p.Bonds.Order[i]
		}
		mol.Bonds = append(mol.Bonds, chat.Bond{From: from, To: to, Order: order})
	}

	return mol, nil
}

var elementSymbols = []string{
	"", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn",
}

func elementSymbol(atomicNumber int) string {
	if atomicNumber > 0 && atomicNumber < len(elementSymbols) {
		return elementSymbols[atomicNumber]
	}
	return "X"
}
