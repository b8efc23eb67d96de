package utils

import (
	"context"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
)

const captchaTTL = 10 * time.Minute

var (
	captchaOnce  sync.Once
	captchaStore base64Captcha.Store
)

// captchaBackend picks Redis when it is reachable so answers survive across
// instances, and the library's memory store otherwise.
func captchaBackend() base64Captcha.Store {
	captchaOnce.Do(func() {
		if GetRedis() != nil {
			captchaStore = redisCaptchaStore{}
			return
		}
		captchaStore = base64Captcha.NewMemoryStore(base64Captcha.GCLimitNumber, captchaTTL)
	})
	return captchaStore
}

// GenerateCaptcha returns a captcha id and a base64 PNG data URI of five digits.
func GenerateCaptcha() (string, string, error) {
	driver := base64Captcha.NewDriverDigit(40, 120, 5, 0.7, 80)
	id, b64, _, err := base64Captcha.NewCaptcha(driver, captchaBackend()).Generate()
	return id, b64, err
}

// VerifyCaptcha checks the answer and consumes the captcha either way.
func VerifyCaptcha(id, answer string) bool {
	if id == "" || answer == "" {
		return false
	}
	return captchaBackend().Verify(id, answer, true)
}

type redisCaptchaStore struct{}

func (redisCaptchaStore) key(id string) string { return "captcha:" + id }

func (s redisCaptchaStore) Set(id, value string) error {
	rc := GetRedis()
	if rc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rc.Set(ctx, s.key(id), value, captchaTTL).Err()
}

func (s redisCaptchaStore) Get(id string, clear bool) string {
	rc := GetRedis()
	if rc == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var (
		v   string
		err error
	)
	if clear {
		v, err = rc.GetDel(ctx, s.key(id)).Result()
	} else {
		v, err = rc.Get(ctx, s.key(id)).Result()
	}
	if err != nil {
		return ""
	}
	return v
}

func (s redisCaptchaStore) Verify(id, answer string, clear bool) bool {
	v := s.Get(id, clear)
	return v != "" && v == answer
}
