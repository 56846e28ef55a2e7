package kubeutil

import (
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// FindKubeconfig returns the kubeconfig path to use.
//
// It searches kubeconfig from
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - explicit, when not empty
//
// Later ones take priority. Paths which are not files are ignored.
// It returns "" when none is found.
func FindKubeconfig(explicit string) string {
	kubeconfig := ""

	// priority 1 (least): ~/.kube/config
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	// priority 2: envvar KUBECONFIG
	if k := os.Getenv("KUBECONFIG"); k != "" {
		kubeconfig = k
	}

	// priority 3 (most): given by caller
	if explicit != "" {
		kubeconfig = explicit
	}

	if kubeconfig != "" {
		stat, err := os.Stat(kubeconfig)
		if err != nil || stat.IsDir() {
			return ""
		}
	}
	return kubeconfig
}

// ConnectToK8s builds a client with the kubeconfig found by FindKubeconfig.
//
// When no kubeconfig is found, it tries the in-cluster config.
func ConnectToK8s(explicit string) (kubernetes.Interface, error) {
	kubeconfig := FindKubeconfig(explicit)

	var config *rest.Config
	var err error
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, xe.WrapWithNote("kubeconfig is not usable, and not in a cluster", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return clientset, nil
}
