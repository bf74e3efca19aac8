package memory

import (
	"testing"

	"minirag/internal/domain"
	"minirag/internal/vectorstore/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.VectorStore { return New() })
}
