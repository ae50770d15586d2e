package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shaiso/Cascade/internal/dag"
	"github.com/shaiso/Cascade/internal/domain"
)

// Ошибки каталога.
var (
	// ErrDefinitionNotFound — definition не найден в каталоге.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrDuplicateDefinition — два definitions с одним ID.
	ErrDuplicateDefinition = errors.New("duplicate definition id")
)

// Catalog — неизменяемый каталог definitions.
//
// Каталог заполняется один раз при старте процесса; каждый definition
// валидируется (включая ацикличность графа зависимостей) до того,
// как стать доступным для StartRun. После создания каталог только
// читается, поэтому безопасен для конкурентного доступа без блокировок.
type Catalog struct {
	defs map[string]*domain.Definition
	ids  []string
}

// New создаёт каталог из списка definitions.
// Каждый definition проходит полную валидацию; дубликаты ID — ошибка.
func New(defs []*domain.Definition) (*Catalog, error) {
	c := &Catalog{
		defs: make(map[string]*domain.Definition, len(defs)),
		ids:  make([]string, 0, len(defs)),
	}

	for _, def := range defs {
		if err := dag.Validate(def); err != nil {
			return nil, fmt.Errorf("definition %q: %w", def.ID, err)
		}
		if _, exists := c.defs[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDefinition, def.ID)
		}
		c.defs[def.ID] = def
		c.ids = append(c.ids, def.ID)
	}

	sort.Strings(c.ids)
	return c, nil
}

// Get возвращает definition по ID.
func (c *Catalog) Get(id string) (*domain.Definition, error) {
	def, ok := c.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}
	return def, nil
}

// IDs возвращает отсортированный список ID всех definitions.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.ids))
	copy(ids, c.ids)
	return ids
}

// All возвращает все definitions в порядке ID.
func (c *Catalog) All() []*domain.Definition {
	defs := make([]*domain.Definition, 0, len(c.ids))
	for _, id := range c.ids {
		defs = append(defs, c.defs[id])
	}
	return defs
}

// Has проверяет наличие definition в каталоге.
func (c *Catalog) Has(id string) bool {
	_, ok := c.defs[id]
	return ok
}

// Size возвращает количество definitions в каталоге.
func (c *Catalog) Size() int {
	return len(c.defs)
}
