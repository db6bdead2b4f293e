package http

import (
	"context"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/markup"
	"salvi/app/internal/permission"
	"salvi/app/internal/wiki"
)

type createPageInput struct {
	Body struct {
		Title          string     `json:"title" minLength:"1" maxLength:"256"`
		Slug           string     `json:"slug,omitempty" maxLength:"64"`
		Text           string     `json:"text"`
		Tags           []string   `json:"tags,omitempty"`
		Comment        string     `json:"comment,omitempty" maxLength:"1024"`
		Calendar       *time.Time `json:"calendar,omitempty"`
		ContentWarning bool       `json:"content_warning,omitempty"`
	}
}

type editPageInput struct {
	ID   uint `path:"id"`
	Body struct {
		Title          *string    `json:"title,omitempty" maxLength:"256"`
		Slug           *string    `json:"slug,omitempty" maxLength:"64"`
		Text           *string    `json:"text,omitempty"`
		Tags           []string   `json:"tags,omitempty"`
		Comment        string     `json:"comment,omitempty" maxLength:"1024"`
		Locked         *bool      `json:"locked,omitempty"`
		ContentWarning *bool      `json:"content_warning,omitempty"`
		Calendar       *time.Time `json:"calendar,omitempty"`
		ClearCalendar  bool       `json:"clear_calendar,omitempty"`
		BaseRevisionID uint       `json:"base_revision_id,omitempty"`
	}
}

type pageInfoBody struct {
	wiki.PageInfo
	Status string `json:"status"`
}

type pageInfoOutput struct {
	Body pageInfoBody
}

type editPageOutput struct {
	Body struct {
		wiki.PageInfo
		Status   string `json:"status"`
		Appended bool   `json:"appended"`
	}
}

type pageInfoInput struct {
	ID   uint `path:"id"`
	Text bool `query:"text"`
}

type revisionItem struct {
	ID       uint    `json:"id"`
	AuthorID *uint   `json:"author_id"`
	Comment  string  `json:"comment"`
	Length   int     `json:"length"`
	Created  float64 `json:"created"`
}

type historyOutput struct {
	Body struct {
		PageID    uint           `json:"page_id"`
		Revisions []revisionItem `json:"revisions"`
	}
}

type pageLink struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

type linksOutput struct {
	Body struct {
		Forward []pageLink `json:"forward"`
		Back    []pageLink `json:"back"`
	}
}

type previewInput struct {
	Body struct {
		Text string `json:"text"`
	}
}

type tocItem struct {
	Level    int       `json:"level"`
	Title    string    `json:"title"`
	ID       string    `json:"id"`
	Children []tocItem `json:"children,omitempty"`
}

type previewOutput struct {
	Body struct {
		HTML string    `json:"html"`
		TOC  []tocItem `json:"toc"`
	}
}

type overrideInput struct {
	ID    uint   `path:"id"`
	Group string `path:"group"`
	Body  struct {
		Permissions string `json:"permissions" doc:"Comma separated capabilities such as read,edit"`
	}
}

type overrideDeleteInput struct {
	ID    uint   `path:"id"`
	Group string `path:"group"`
}

type propertyItem struct {
	Kind  wiki.PropertyKind `json:"kind" enum:"string,int,bool"`
	Value string            `json:"value"`
}

type propertiesOutput struct {
	Body struct {
		Properties map[string]propertyItem `json:"properties"`
	}
}

type propertyInput struct {
	ID  uint   `path:"id"`
	Key string `path:"key"`
}

type propertyOutput struct {
	Body propertyItem
}

type propertySetInput struct {
	ID   uint   `path:"id"`
	Key  string `path:"key"`
	Body propertyItem
}

func (s *Server) registerAPIRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-page",
		Method:        stdhttp.MethodPost,
		Path:          "/api/pages",
		Summary:       "Create a page",
		DefaultStatus: stdhttp.StatusCreated,
	}, s.createPageHandler)
	huma.Put(s.api, "/api/pages/{id}", s.editPageHandler, apiOperation("Edit a page"))
	huma.Get(s.api, "/api/pages/{id}/info", s.pageInfoHandler, apiOperation("Describe a page"))
	huma.Get(s.api, "/api/pages/{id}/history", s.pageHistoryHandler, apiOperation("List revisions"))
	huma.Get(s.api, "/api/pages/{id}/links", s.pageLinksHandler, apiOperation("List connected pages"))
	huma.Post(s.api, "/api/preview", s.previewHandler, apiOperation("Render markup without saving"))
	huma.Put(s.api, "/api/pages/{id}/overrides/{group}", s.setOverrideHandler, apiOperation("Grant a group capabilities on a page"))
	huma.Delete(s.api, "/api/pages/{id}/overrides/{group}", s.deleteOverrideHandler, apiOperation("Revoke a group override"))
	huma.Get(s.api, "/api/pages/{id}/properties", s.propertiesHandler, apiOperation("List page properties"))
	huma.Get(s.api, "/api/pages/{id}/properties/{key}", s.propertyHandler, apiOperation("Read a page property"))
	huma.Put(s.api, "/api/pages/{id}/properties/{key}", s.setPropertyHandler, apiOperation("Store a page property"))
	huma.Delete(s.api, "/api/pages/{id}/properties/{key}", s.deletePropertyHandler, apiOperation("Remove a page property"))
}

func apiOperation(summary string) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.Summary = summary
		op.Tags = []string{"pages"}
	}
}

func (s *Server) createPageHandler(ctx context.Context, input *createPageInput) (*pageInfoOutput, error) {
	identity := IdentityFromContext(ctx)

	page, err := s.wiki.CreatePage(ctx, identity, wiki.CreateInput{
		Slug:           strings.TrimSpace(input.Body.Slug),
		Title:          input.Body.Title,
		Text:           input.Body.Text,
		Tags:           input.Body.Tags,
		Comment:        input.Body.Comment,
		Calendar:       input.Body.Calendar,
		ContentWarning: input.Body.ContentWarning,
	})
	if err != nil {
		return nil, s.apiError(ctx, err, "creating page", logrus.Fields{"title": input.Body.Title})
	}

	return s.pageInfo(ctx, page.ID, false)
}

func (s *Server) editPageHandler(ctx context.Context, input *editPageInput) (*editPageOutput, error) {
	identity := IdentityFromContext(ctx)
	body := input.Body

	result, err := s.wiki.EditPage(ctx, identity, input.ID, wiki.EditInput{
		Title:          body.Title,
		Slug:           body.Slug,
		Text:           body.Text,
		Tags:           body.Tags,
		Comment:        body.Comment,
		Locked:         body.Locked,
		ContentWarning: body.ContentWarning,
		Calendar:       body.Calendar,
		ClearCalendar:  body.ClearCalendar,
		BaseRevisionID: body.BaseRevisionID,
	})
	if err != nil {
		return nil, s.apiError(ctx, err, "editing page", logrus.Fields{"page_id": input.ID})
	}

	info, err := s.pageInfo(ctx, result.Page.ID, false)
	if err != nil {
		return nil, err
	}

	out := &editPageOutput{}
	out.Body.PageInfo = info.Body.PageInfo
	out.Body.Status = info.Body.Status
	out.Body.Appended = result.Appended
	return out, nil
}

func (s *Server) pageInfoHandler(ctx context.Context, input *pageInfoInput) (*pageInfoOutput, error) {
	return s.pageInfo(ctx, input.ID, input.Text)
}

func (s *Server) pageInfo(ctx context.Context, id uint, withText bool) (*pageInfoOutput, error) {
	info, err := s.wiki.PageInfo(ctx, IdentityFromContext(ctx), id, withText)
	if err != nil {
		return nil, s.apiError(ctx, err, "describing page", logrus.Fields{"page_id": id})
	}
	return &pageInfoOutput{Body: pageInfoBody{PageInfo: *info, Status: "ok"}}, nil
}

func (s *Server) pageHistoryHandler(ctx context.Context, input *idInput) (*historyOutput, error) {
	history, err := s.wiki.History(ctx, IdentityFromContext(ctx), input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading history", logrus.Fields{"page_id": input.ID})
	}

	out := &historyOutput{}
	out.Body.PageID = history.Page.ID
	out.Body.Revisions = make([]revisionItem, 0, len(history.Revisions))
	for _, rev := range history.Revisions {
		out.Body.Revisions = append(out.Body.Revisions, revisionItem{
			ID:       rev.ID,
			AuthorID: rev.AuthorID,
			Comment:  rev.Comment,
			Length:   rev.Length,
			Created:  wiki.UnixSeconds(rev.CreatedAt),
		})
	}
	return out, nil
}

func (s *Server) pageLinksHandler(ctx context.Context, input *idInput) (*linksOutput, error) {
	view, err := s.wiki.Links(ctx, IdentityFromContext(ctx), input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading links", logrus.Fields{"page_id": input.ID})
	}

	out := &linksOutput{}
	out.Body.Forward = pageLinks(view.Forward)
	out.Body.Back = pageLinks(view.Back)
	return out, nil
}

func (s *Server) previewHandler(_ context.Context, input *previewInput) (*previewOutput, error) {
	result := s.wiki.Preview(input.Body.Text)

	out := &previewOutput{}
	out.Body.HTML = result.HTML
	out.Body.TOC = tocItems(result.TOC)
	return out, nil
}

func (s *Server) setOverrideHandler(ctx context.Context, input *overrideInput) (*struct{}, error) {
	bits, ok := permission.ParseBits(input.Body.Permissions)
	if !ok {
		return nil, huma.Error422UnprocessableEntity("unknown capability in " + input.Body.Permissions)
	}

	fields := logrus.Fields{"page_id": input.ID, "group": input.Group}
	if err := s.wiki.SetOverride(ctx, IdentityFromContext(ctx), input.ID, input.Group, bits); err != nil {
		return nil, s.apiError(ctx, err, "setting override", fields)
	}
	return nil, nil
}

func (s *Server) deleteOverrideHandler(ctx context.Context, input *overrideDeleteInput) (*struct{}, error) {
	fields := logrus.Fields{"page_id": input.ID, "group": input.Group}
	if err := s.wiki.DeleteOverride(ctx, IdentityFromContext(ctx), input.ID, input.Group); err != nil {
		return nil, s.apiError(ctx, err, "deleting override", fields)
	}
	return nil, nil
}

func (s *Server) propertiesHandler(ctx context.Context, input *idInput) (*propertiesOutput, error) {
	props, err := s.wiki.Properties(ctx, IdentityFromContext(ctx), input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "listing properties", logrus.Fields{"page_id": input.ID})
	}

	out := &propertiesOutput{}
	out.Body.Properties = make(map[string]propertyItem, len(props))
	for _, prop := range props {
		out.Body.Properties[prop.Key] = propertyItem{Kind: prop.Kind, Value: prop.Value}
	}
	return out, nil
}

func (s *Server) propertyHandler(ctx context.Context, input *propertyInput) (*propertyOutput, error) {
	value, ok, err := s.wiki.Property(ctx, IdentityFromContext(ctx), input.ID, input.Key)
	if err != nil {
		return nil, s.apiError(ctx, err, "reading property", logrus.Fields{"page_id": input.ID, "key": input.Key})
	}
	if !ok {
		return nil, huma.Error404NotFound("property " + input.Key + " is not set")
	}
	return &propertyOutput{Body: propertyItem{Kind: value.Kind, Value: value.Raw}}, nil
}

func (s *Server) setPropertyHandler(ctx context.Context, input *propertySetInput) (*struct{}, error) {
	value := wiki.PropertyValue{Kind: input.Body.Kind, Raw: input.Body.Value}
	if err := s.wiki.SetProperty(ctx, IdentityFromContext(ctx), input.ID, input.Key, value); err != nil {
		return nil, s.apiError(ctx, err, "storing property", logrus.Fields{"page_id": input.ID, "key": input.Key})
	}
	return nil, nil
}

func (s *Server) deletePropertyHandler(ctx context.Context, input *propertyInput) (*struct{}, error) {
	if err := s.wiki.DeleteProperty(ctx, IdentityFromContext(ctx), input.ID, input.Key); err != nil {
		return nil, s.apiError(ctx, err, "removing property", logrus.Fields{"page_id": input.ID, "key": input.Key})
	}
	return nil, nil
}

func pageLinks(pages []wiki.Page) []pageLink {
	out := make([]pageLink, 0, len(pages))
	for i := range pages {
		out = append(out, pageLink{ID: pages[i].ID, Title: pages[i].Title, Path: pages[i].Path()})
	}
	return out
}

func tocItems(headings []markup.Heading) []tocItem {
	out := make([]tocItem, 0, len(headings))
	for _, h := range headings {
		item := tocItem{Level: h.Level, Title: h.Title, ID: h.ID}
		if len(h.Children) > 0 {
			item.Children = tocItems(h.Children)
		}
		out = append(out, item)
	}
	return out
}
