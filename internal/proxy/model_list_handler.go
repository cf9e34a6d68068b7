package proxy

import (
	"net/http"
	"time"

	"doubao-api/internal/doubao"
	"doubao-api/internal/transformer/model"

	"github.com/gin-gonic/gin"
)

const ownedBy = "doubao"

// handleModelList lists the chat models and the image model.
func (s *Server) handleModelList(c *gin.Context) {
	created := time.Now().Unix()
	names := append([]string(nil), doubao.ChatModels...)
	if s.config.ImageModel != "" {
		names = append(names, s.config.ImageModel)
	}

	list := model.ModelList{Object: model.ObjectList, Data: make([]model.ModelInfo, 0, len(names))}
	for _, name := range names {
		list.Data = append(list.Data, model.ModelInfo{
			ID:      name,
			Object:  model.ObjectModel,
			Created: created,
			OwnedBy: ownedBy,
		})
	}
	c.JSON(http.StatusOK, list)
}
