package saga

import (
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

// Result describes what one input did to an instance. Saga is the persisted
// snapshot, nil only when the input referenced an unknown instance.
type Result struct {
	Saga     *entity.BookingSaga
	Commands []message.Command
	Path     []entity.Status
	Ignored  bool
	Reason   string
}
