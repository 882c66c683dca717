// auth.go
package inmotechcitas

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims viaja dentro del JWT y del contexto de la petición.
type Claims struct {
	IDPersona int64  `json:"id_persona"`
	Nombre    string `json:"nombre"`
	Rol       string `json:"rol,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	store  Store
	secret []byte
	ttl    time.Duration
	log    *slog.Logger
}

var _ AuthService = (*authService)(nil)

func NewAuthService(store Store, secret string, ttl time.Duration, log *slog.Logger) AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &authService{store: store, secret: []byte(secret), ttl: ttl, log: log}
}

func (s *authService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *authService) CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *authService) GenerateToken(p *Persona) (string, error) {
	rol := ""
	if p.IDRol != nil {
		if r, err := s.rolNombre(*p.IDRol); err == nil {
			rol = r
		}
	}
	claims := Claims{
		IDPersona: p.ID,
		Nombre:    p.NombreCompleto(),
		Rol:       rol,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", p.ID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *authService) rolNombre(idRol int64) (string, error) {
	row := s.store.DB().QueryRow(`SELECT nombre_rol FROM Roles WHERE id_rol=?`, idRol)
	var nombre string
	if err := row.Scan(&nombre); err != nil {
		return "", err
	}
	return nombre, nil
}

func (s *authService) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de firma inesperado: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Registrar crea la persona (o reutiliza la existente por documento) y le
// activa una cuenta con el rol pedido. Una persona con cuenta no puede
// registrarse dos veces.
func (s *authService) Registrar(reg RegistroCuenta) (*Persona, string, error) {
	rolNombre := reg.Rol
	if rolNombre == "" {
		rolNombre = RolCliente
	}

	var persona *Persona
	err := s.store.WithTx(func(tx *sql.Tx) error {
		p, err := s.store.CrearOActualizarPersona(tx, reg.DatosPersona)
		if err != nil {
			return err
		}
		if p.TieneCuenta {
			return fmt.Errorf("%w: la persona ya tiene una cuenta registrada", ErrInvalidInput)
		}

		rol, err := s.store.ObtenerRolPorNombre(tx, rolNombre)
		if err != nil {
			return err
		}
		if rol == nil {
			return fmt.Errorf("%w: rol desconocido: %s", ErrInvalidInput, rolNombre)
		}

		hash, err := s.HashPassword(reg.Password)
		if err != nil {
			return err
		}
		if err := s.store.GuardarCuenta(tx, p.ID, hash, rol.ID); err != nil {
			return err
		}
		persona, err = s.store.ObtenerPersonaPorID(tx, p.ID)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.GenerateToken(persona)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("cuenta_registrada", "id_persona", persona.ID, "rol", rolNombre)
	return persona, token, nil
}

func (s *authService) Login(tipo TipoDocumento, numero, password string) (*Persona, string, error) {
	p, err := s.store.BuscarPersonaPorDocumento(s.store.DB(), tipo, numero)
	if err != nil {
		return nil, "", err
	}
	if p == nil || !p.TieneCuenta || p.PasswordHash == nil {
		return nil, "", ErrUnauthorized
	}
	if !s.CheckPassword(password, *p.PasswordHash) {
		s.log.Warn("login_fallido", "id_persona", p.ID)
		return nil, "", ErrUnauthorized
	}
	token, err := s.GenerateToken(p)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("login_ok", "id_persona", p.ID)
	return p, token, nil
}

// ====================
// Middleware y contexto
// ====================

type claimsKey struct{}

// ClaimsFromContext devuelve los claims de la petición autenticada, si los hay.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// BearerToken extrae el token del header Authorization.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// RequireAuth exige un Bearer token válido y deja los claims en el contexto.
func RequireAuth(auth AuthService, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			respondError(w, r, http.StatusUnauthorized, "token de autenticación requerido")
			return
		}
		claims, err := auth.ParseToken(token)
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, "token inválido o expirado")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}
