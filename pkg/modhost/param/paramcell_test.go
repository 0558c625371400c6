package param

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
)

type fakeCaller struct {
	name      string
	dependsOn map[string]bool
}

func (f *fakeCaller) Name() string { return f.name }
func (f *fakeCaller) DependsOn(owner string) bool { return f.dependsOn[owner] }

func TestReadWriteRoundTrip(t *testing.T) {
	c := New("owner", export.ParameterDecl{Name: "gain", Type: export.U32, DefaultValue: 7})
	v, typ := c.Read()
	require.Equal(t, uint64(7), v)
	require.Equal(t, export.U32, typ)

	require.True(t, c.Write(9, export.U32))
	v, _ = c.Read()
	require.Equal(t, uint64(9), v)

	require.False(t, c.Write(1, export.U64))
}

func TestPublicAccess(t *testing.T) {
	c := New("owner", export.ParameterDecl{Name: "p", Type: export.U8, ReadAccess: export.AccessPublic, WriteAccess: export.AccessPublic})
	require.True(t, c.CanRead(nil))
	require.True(t, c.CanWrite(nil))
}

func TestDependencyAccess(t *testing.T) {
	c := New("owner", export.ParameterDecl{Name: "p", Type: export.U8, ReadAccess: export.AccessDependency, WriteAccess: export.AccessDependency})
	dependent := &fakeCaller{name: "dependent", dependsOn: map[string]bool{"owner": true}}
	stranger := &fakeCaller{name: "stranger"}

	require.True(t, c.CanRead(dependent))
	require.False(t, c.CanRead(stranger))
	require.True(t, c.CanWrite(dependent))
	require.False(t, c.CanWrite(stranger))
}

func TestPrivateAccess(t *testing.T) {
	c := New("owner", export.ParameterDecl{Name: "p", Type: export.U8, ReadAccess: export.AccessPrivate, WriteAccess: export.AccessPrivate})
	owner := &fakeCaller{name: "owner"}
	dependent := &fakeCaller{name: "dependent", dependsOn: map[string]bool{"owner": true}}

	require.True(t, c.CanRead(owner))
	require.False(t, c.CanRead(dependent))
	require.True(t, c.CanWrite(owner))
	require.False(t, c.CanWrite(dependent))
}

func TestReadHookOverridesValue(t *testing.T) {
	c := New("owner", export.ParameterDecl{
		Name: "p", Type: export.U16, DefaultValue: 1,
		Read: func(data any, out *uint64) error {
			*out = 123
			return nil
		},
	})
	v, _ := c.Read()
	require.Equal(t, uint64(123), v)
}
