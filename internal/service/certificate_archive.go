package service

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"bytes"
	"context"
	"encoding/json"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// CertificateArchive keeps an immutable copy of each issued certificate for display collaborators.
type CertificateArchive interface {
	Store(ctx context.Context, cert *model.Certificate) error
}

type NopArchive struct{}

func (NopArchive) Store(context.Context, *model.Certificate) error { return nil }

// MinioCertificateArchive MinIO证书归档
type MinioCertificateArchive struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioCertificateArchive(cfg *config.StorageConfig) (*MinioCertificateArchive, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioCertificateArchive{Config: cfg, Client: client}, nil
}

func (a *MinioCertificateArchive) ObjectName(number string) string {
	return "certificates/" + number + ".json"
}

func (a *MinioCertificateArchive) Store(ctx context.Context, cert *model.Certificate) error {
	doc, err := json.Marshal(cert)
	if err != nil {
		return err
	}
	_, err = a.Client.PutObject(ctx, a.Config.MinioBucket, a.ObjectName(cert.CertificateNumber),
		bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	return err
}
