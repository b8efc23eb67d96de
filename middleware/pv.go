package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// QuestionViewRecorder counts successful GETs of a question's detail route
// per calendar day. Paths are normalised so /questions/007 and /questions/7
// land in the same row.
func QuestionViewRecorder(db *gorm.DB, cal services.Calendar) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodGet {
			return
		}
		if status := c.Writer.Status(); status < 200 || status >= 300 {
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			return
		}

		now := time.Now().UTC()
		err = db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}, {Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + 1"), "updated_at": now}),
		}).Create(&models.PageView{Day: cal.DayKey(now), Path: services.QuestionPath(uint(id)), Count: 1}).Error
		if err != nil {
			utils.Logger.Debug("page view not recorded", zap.Uint64("question_id", id), zap.Error(err))
		}
	}
}
