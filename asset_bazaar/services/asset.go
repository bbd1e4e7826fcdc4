package services

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/asset_bazaar/storage"
	"bms_platform/utils"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type AssetService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider

	maxFileSize      int64
	maxLargeFileSize int64
	createLimit      func(http.Handler) http.Handler
}

func (s *AssetService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.OptionalAuthMiddleware()...)

		r.Get("/", s.List)
		r.Get("/{asset_id}", s.Info)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.NotBanned)

		r.With(s.createLimit, checkSufficientStorage(s.storage)).Post("/upload", s.Upload)

		r.Patch("/{asset_id}", s.Update)
		r.Delete("/{asset_id}", s.Delete)
		r.Post("/{asset_id}/status", s.SetStatus)
		r.With(s.createLimit).Post("/{asset_id}/link", s.Link)
		r.With(s.createLimit).Post("/{asset_id}/collab", s.Collab)
		r.With(s.createLimit).Post("/{asset_id}/report", s.Report)
	})

	return r
}

type listAssetsResponse struct {
	Assets []AssetInfo `json:"assets"`
	Total  int64       `json:"total"`
	Page   int         `json:"page"`
	Limit  int         `json:"limit"`
}

func (s *AssetService) List(w http.ResponseWriter, r *http.Request) {
	viewer := auth.OptionalUserFromContext(r)

	page, err := utils.QueryInt(r, "page", 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := utils.QueryInt(r, "limit", lifecycle.DefaultPageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := lifecycle.AssetFilter{
		Type:       r.URL.Query().Get("type"),
		Tag:        r.URL.Query().Get("tag"),
		UploaderId: r.URL.Query().Get("uploader"),
		Page:       page,
		Limit:      limit,
	}
	for _, status := range utils.QueryList(r, "status") {
		filter.Statuses = append(filter.Statuses, schema.Status(status))
	}

	assets, total, err := lifecycle.ListAssets(s.db, viewer, filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing assets: %v", err), GetResponseCode(err))
		return
	}

	infos := make([]AssetInfo, 0, len(assets))
	for _, asset := range assets {
		infos = append(infos, convertToAssetInfo(asset))
	}

	utils.WriteJsonResponse(w, listAssetsResponse{Assets: infos, Total: total, Page: page, Limit: limit})
}

func (s *AssetService) Info(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := lifecycle.GetVisibleAsset(s.db, auth.OptionalUserFromContext(r), assetId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error retrieving asset: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToAssetInfo(asset))
}

type uploadMetadata struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	License     string   `json:"license"`
	LicenseUrl  *string  `json:"licenseUrl"`
	SourceUrl   *string  `json:"sourceUrl"`
	Tags        []string `json:"tags"`
}

var iconExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

type storedFile struct {
	path string
	hash string
	size int64
	file multipart.File
}

// hashUpload computes the sha256 of the uploaded part and rewinds it so it can
// be written to storage afterwards.
func hashUpload(header *multipart.FileHeader) (storedFile, error) {
	file, err := header.Open()
	if err != nil {
		return storedFile{}, CodedError(fmt.Errorf("unable to open uploaded file %v: %w", header.Filename, err), http.StatusBadRequest)
	}

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		file.Close()
		return storedFile{}, CodedError(fmt.Errorf("unable to read uploaded file %v: %w", header.Filename, err), http.StatusBadRequest)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return storedFile{}, CodedError(fmt.Errorf("unable to read uploaded file %v: %w", header.Filename, err), http.StatusInternalServerError)
	}

	return storedFile{hash: hex.EncodeToString(hasher.Sum(nil)), size: size, file: file}, nil
}

func (s *AssetService) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	maxSize := s.maxFileSize
	if user.HasRole(schema.RoleLargeFiles) {
		maxSize = s.maxLargeFileSize
	}
	// Leave room for the icons and the metadata part.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+8*1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("error parsing upload: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var metadata uploadMetadata
	dec := json.NewDecoder(strings.NewReader(r.FormValue("metadata")))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&metadata); err != nil {
		http.Error(w, fmt.Sprintf("error parsing upload metadata: %v", err), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		http.Error(w, "exactly one asset file must be uploaded", http.StatusBadRequest)
		return
	}
	if files[0].Size > maxSize {
		http.Error(w, fmt.Sprintf("asset file exceeds the maximum size of %d bytes", maxSize), http.StatusRequestEntityTooLarge)
		return
	}

	assetFile, err := hashUpload(files[0])
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer assetFile.file.Close()
	assetFile.path = path.Join(storage.AssetDir, assetFile.hash+"."+schema.AssetTypeExtension(metadata.Type))

	iconHeaders := r.MultipartForm.File["icons"]
	if len(iconHeaders) > schema.MaxIcons {
		http.Error(w, fmt.Sprintf("at most %d icons may be uploaded", schema.MaxIcons), http.StatusUnprocessableEntity)
		return
	}

	icons := make([]storedFile, 0, len(iconHeaders))
	iconNames := make([]string, 0, len(iconHeaders))
	defer func() {
		for _, icon := range icons {
			icon.file.Close()
		}
	}()
	for _, header := range iconHeaders {
		ext, ok := iconExtensions[header.Header.Get("Content-Type")]
		if !ok {
			http.Error(w, fmt.Sprintf("icon %v must be a png, jpeg, gif or webp image", header.Filename), http.StatusUnprocessableEntity)
			return
		}
		icon, err := hashUpload(header)
		if err != nil {
			http.Error(w, err.Error(), GetResponseCode(err))
			return
		}
		name := icon.hash + "." + ext
		icon.path = path.Join(storage.IconDir, name)
		icons = append(icons, icon)
		iconNames = append(iconNames, name)
	}

	var asset schema.Asset
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		asset, err = lifecycle.CreateAsset(txn, user, lifecycle.CreateAssetParams{
			Type:        metadata.Type,
			Name:        metadata.Name,
			Description: metadata.Description,
			License:     metadata.License,
			LicenseUrl:  metadata.LicenseUrl,
			SourceUrl:   metadata.SourceUrl,
			Tags:        metadata.Tags,
			FileHash:    assetFile.hash,
			FileSize:    assetFile.size,
			IconNames:   iconNames,
		})
		if err != nil {
			return err
		}

		// Files are content addressed, so a file left behind by a failed
		// commit is simply reused by the next upload of the same content.
		for _, f := range append([]storedFile{assetFile}, icons...) {
			if _, err := s.storage.Write(f.path, f.file); err != nil {
				return CodedError(errors.New("error saving uploaded file"), http.StatusInternalServerError)
			}
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading asset: %v", err), GetResponseCode(err))
		return
	}

	assetsUploaded.Inc()

	asset, err = schema.GetAsset(asset.Id, s.db, true, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error retrieving uploaded asset: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, convertToAssetInfo(asset))
}

type updateAssetRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

func (s *AssetService) Update(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params updateAssetRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var asset schema.Asset
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		asset, err = lifecycle.UpdateAsset(txn, user, assetId, lifecycle.AssetPatch{
			Name: params.Name, Description: params.Description, Tags: params.Tags,
		})
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating asset: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToAssetInfo(asset))
}

func (s *AssetService) Delete(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return lifecycle.DeleteAsset(txn, user, assetId)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting asset: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type setStatusRequest struct {
	Status   schema.Status `json:"status"`
	Reason   string        `json:"reason"`
	Override bool          `json:"override"`
}

func (s *AssetService) SetStatus(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params setStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		_, _, err := lifecycle.ReviewAsset(txn, user, assetId, params.Status, params.Reason, params.Override)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error setting asset status: %v", err), GetResponseCode(err))
		return
	}

	statusChanges.WithLabelValues(string(params.Status)).Inc()

	asset, err := schema.GetAsset(assetId, s.db, true, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error retrieving asset: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToAssetInfo(asset))
}

type linkRequest struct {
	AssetId  uint            `json:"assetId"`
	LinkType schema.LinkType `json:"linkType"`
}

type linkResponse struct {
	Asset   *AssetInfo   `json:"asset,omitempty"`
	Request *RequestInfo `json:"request,omitempty"`
}

// Link applies the link right away when no consent is needed and answers 200
// with the asset, otherwise it answers 201 with the created request.
func (s *AssetService) Link(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params linkRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var res lifecycle.LinkResult
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		res, err = lifecycle.RequestLink(txn, user, assetId, params.AssetId, params.LinkType)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error linking assets: %v", err), GetResponseCode(err))
		return
	}

	if res.Request != nil {
		requestsCreated.WithLabelValues(string(schema.LinkRequest)).Inc()
		info := convertToRequestInfo(*res.Request)
		utils.WriteJsonResponseWithStatus(w, http.StatusCreated, linkResponse{Request: &info})
		return
	}

	info := convertToAssetInfo(*res.Asset)
	utils.WriteJsonResponse(w, linkResponse{Asset: &info})
}

type collabRequest struct {
	UserId string `json:"userId"`
}

func (s *AssetService) Collab(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params collabRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var request schema.AssetRequest
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = lifecycle.RequestCollab(txn, user, assetId, params.UserId)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error requesting collaboration credit: %v", err), GetResponseCode(err))
		return
	}

	requestsCreated.WithLabelValues(string(schema.CreditRequest)).Inc()

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, convertToRequestInfo(request))
}

type reportRequest struct {
	Reason string `json:"reason"`
}

func (s *AssetService) Report(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUint(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params reportRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var request schema.AssetRequest
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = lifecycle.Report(txn, user, assetId, params.Reason)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error reporting asset: %v", err), GetResponseCode(err))
		return
	}

	requestsCreated.WithLabelValues(string(schema.ReportRequest)).Inc()

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, convertToRequestInfo(request))
}
