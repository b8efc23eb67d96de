package controllers

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
	"github.com/cppla/pollquest/utils"
)

const maxUploadSize = 5 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadController stores question images on local disk. Files stay
// unattached until a question references them; unattached files expire.
type UploadController struct {
	db      *gorm.DB
	root    string
	urlBase string
	ttl     time.Duration
}

// NewUploadController writes under root (served at urlBase) and keeps
// unattached files for ttl.
func NewUploadController(db *gorm.DB, root, urlBase string, ttl time.Duration) *UploadController {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &UploadController{db: db, root: root, urlBase: urlBase, ttl: ttl}
}

// Upload accepts one image in the "file" form field.
func (u *UploadController) Upload(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "no file uploaded")
		return
	}
	defer file.Close()
	if header.Size > maxUploadSize {
		utils.Error(ctx, http.StatusBadRequest, 40031, "file exceeds 5MB")
		return
	}

	br := bufio.NewReaderSize(file, 512)
	head, _ := br.Peek(512)
	ext, ok := imageExtensions[http.DetectContentType(head)]
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40032, "only jpeg, png, gif and webp images are allowed")
		return
	}

	now := time.Now().UTC()
	day := now.Format("2006/01/02")
	dir := filepath.Join(u.root, filepath.FromSlash(day))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		utils.Logger.Error("create upload dir", zap.String("dir", dir), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to store file")
		return
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(dir, name)

	written, err := writeLimited(dst, br, maxUploadSize)
	if err != nil {
		_ = os.Remove(dst)
		utils.Logger.Error("write upload", zap.String("path", dst), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to store file")
		return
	}
	if written > maxUploadSize {
		_ = os.Remove(dst)
		utils.Error(ctx, http.StatusBadRequest, 40031, "file exceeds 5MB")
		return
	}

	record := models.UploadedFile{
		UserID:   userID,
		FilePath: dst,
		URL:      path.Join(u.urlBase, day, name),
		ExpireAt: now.Add(u.ttl),
	}
	if err := u.db.WithContext(ctx.Request.Context()).Create(&record).Error; err != nil {
		_ = os.Remove(dst)
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, gin.H{"url": record.URL, "expire_at": record.ExpireAt})
}

// writeLimited copies at most limit+1 bytes so callers can detect oversize input.
func writeLimited(dst string, r io.Reader, limit int64) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
